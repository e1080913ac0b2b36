package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	streamName    = "GROUNDSYNC_CHANGES"
	subjectPrefix = "groundsync.changes."
)

// Feed publishes and subscribes to document change notifications on
// NATS JetStream.
type Feed struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

// NewFeed connects to NATS and ensures the change stream exists.
func NewFeed(url string) (*Feed, error) {
	conn, err := Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// Stream may already exist, try update
		if _, err := js.UpdateStream(&cfg); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Feed{conn: conn, js: js, log: logging.Component("changefeed")}, nil
}

// Connect opens a NATS connection that keeps reconnecting forever.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Subject returns the subject carrying changes to documents of collection.
// Path segments map to subject tokens; bytes NATS reserves are escaped as
// ~XX so distinct collections never share a subject.
func Subject(collection string) string {
	parts := strings.Split(strings.Trim(collection, "/"), "/")
	for i, p := range parts {
		parts[i] = escapeToken(p)
	}
	return subjectPrefix + strings.Join(parts, ".")
}

func escapeToken(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '.', '*', '>', '~', ' ', '\t', '\r', '\n':
			fmt.Fprintf(&b, "~%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Publish announces a change to every watcher of the document's collection.
func (f *Feed) Publish(ctx context.Context, c document.Change) error {
	data, err := EncodeChange(c)
	if err != nil {
		return domain.NewSyncError(domain.SyncInvalidPayload, "publish", err)
	}
	if _, err := f.js.Publish(Subject(c.Snapshot.Collection), data, nats.Context(ctx)); err != nil {
		return classify("publish", err)
	}
	return nil
}

// Subscribe delivers changes published after the call until ctx is
// cancelled. Undecodable messages arrive as Changes with Err set.
func (f *Feed) Subscribe(ctx context.Context, collection string) (<-chan document.Change, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := f.js.ChanSubscribe(Subject(collection), msgs, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return nil, classify("subscribe", err)
	}

	out := make(chan document.Change)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				f.log.Warn("unsubscribe", "collection", collection, "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				c, err := DecodeChange(msg.Data)
				if err != nil {
					c = document.Change{Err: &domain.DecodeError{Reason: "change notification", Err: err}}
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping reports whether the connection is up.
func (f *Feed) Ping(ctx context.Context) error {
	if !f.conn.IsConnected() {
		return fmt.Errorf("nats: %s", f.conn.Status())
	}
	return nil
}

// Close drains and closes the connection.
func (f *Feed) Close() {
	_ = f.conn.Drain()
}

// EncodeChange serialises a change as a protobuf Struct. Fields travel in
// their tagged JSON form so geo points and timestamps survive.
func EncodeChange(c document.Change) ([]byte, error) {
	var fields any
	if c.Snapshot.Fields != nil {
		b, err := document.MarshalFields(c.Snapshot.Fields)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, err
		}
	}
	st, err := structpb.NewStruct(map[string]any{
		"kind":       float64(c.Kind),
		"collection": c.Snapshot.Collection,
		"id":         c.Snapshot.ID,
		"version":    float64(c.Snapshot.Version),
		"updated":    c.Snapshot.UpdateTime.UTC().Format(time.RFC3339Nano),
		"fields":     fields,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// DecodeChange reverses EncodeChange.
func DecodeChange(data []byte) (document.Change, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return document.Change{}, err
	}
	m := st.AsMap()
	kind, _ := m["kind"].(float64)
	version, _ := m["version"].(float64)
	c := document.Change{
		Kind: document.ChangeKind(kind),
		Snapshot: document.Snapshot{
			Collection: fmt.Sprint(m["collection"]),
			Version:    int64(version),
		},
	}
	c.Snapshot.ID, _ = m["id"].(string)
	if c.Snapshot.ID == "" {
		return c, fmt.Errorf("change notification without document id")
	}
	if s, ok := m["updated"].(string); ok {
		c.Snapshot.UpdateTime, _ = time.Parse(time.RFC3339Nano, s)
	}
	if raw, ok := m["fields"].(map[string]any); ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return c, err
		}
		if c.Snapshot.Fields, err = document.UnmarshalFields(b); err != nil {
			return c, err
		}
	}
	return c, nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, nats.ErrAuthorization), errors.Is(err, nats.ErrAuthExpired):
		return domain.NewSyncError(domain.SyncUnauthenticated, op, err)
	case strings.Contains(strings.ToLower(err.Error()), nats.PERMISSIONS_ERR):
		return domain.NewSyncError(domain.SyncPermissionDenied, op, err)
	case errors.Is(err, nats.ErrMaxPayload):
		return domain.NewSyncError(domain.SyncInvalidPayload, op, err)
	}
	return domain.NewSyncError(domain.SyncUnavailable, op, err)
}
