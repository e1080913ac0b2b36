// Package docstore composes a document table and a change feed into the
// remote document store used by the sync engine.
package docstore

import (
	"context"
	"log/slog"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
)

// Table stores documents.
type Table interface {
	Get(ctx context.Context, collection, id string) (*document.Snapshot, error)
	Write(ctx context.Context, collection, id string, fields document.Fields, merge bool) (document.Snapshot, bool, error)
	Delete(ctx context.Context, collection, id string) (int64, bool, error)
	List(ctx context.Context, collection string) ([]document.Snapshot, error)
}

// Feed carries change notifications.
type Feed interface {
	Publish(ctx context.Context, c document.Change) error
	Subscribe(ctx context.Context, collection string) (<-chan document.Change, error)
}

// Store implements ports.DocumentStore.
type Store struct {
	table Table
	feed  Feed
	log   *slog.Logger
}

// New creates a new Store.
func New(table Table, feed Feed) *Store {
	return &Store{table: table, feed: feed, log: logging.Component("docstore")}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*document.Snapshot, error) {
	return s.table.Get(ctx, collection, id)
}

func (s *Store) Set(ctx context.Context, collection, id string, fields document.Fields) (int64, error) {
	return s.write(ctx, collection, id, fields, false)
}

func (s *Store) Merge(ctx context.Context, collection, id string, fields document.Fields) (int64, error) {
	return s.write(ctx, collection, id, fields, true)
}

func (s *Store) write(ctx context.Context, collection, id string, fields document.Fields, merge bool) (int64, error) {
	norm, err := document.NormalizeFields(fields)
	if err != nil {
		return 0, domain.NewSyncError(domain.SyncInvalidPayload, "write", err)
	}
	snap, existed, err := s.table.Write(ctx, collection, id, norm, merge)
	if err != nil {
		return 0, err
	}
	kind := document.ChangeAdded
	if existed {
		kind = document.ChangeModified
	}
	s.announce(ctx, document.Change{Kind: kind, Snapshot: snap})
	return snap.Version, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	v, deleted, err := s.table.Delete(ctx, collection, id)
	if err != nil || !deleted {
		return err
	}
	s.announce(ctx, document.Change{
		Kind:     document.ChangeRemoved,
		Snapshot: document.Snapshot{ID: id, Collection: collection, Version: v},
	})
	return nil
}

// announce publishes a committed write. The write already succeeded, so a
// lost notification is logged rather than returned; watchers catch up on
// their next listing.
func (s *Store) announce(ctx context.Context, c document.Change) {
	if err := s.feed.Publish(context.WithoutCancel(ctx), c); err != nil {
		s.log.Error("publish change", "path", c.Snapshot.Path(), "kind", c.Kind.String(), "error", err)
	}
}

func (s *Store) List(ctx context.Context, collection string) ([]document.Snapshot, error) {
	return s.table.List(ctx, collection)
}

// Watch subscribes before listing so no write falls between the two. Live
// changes already covered by the listing are dropped.
func (s *Store) Watch(ctx context.Context, collection string) (<-chan document.Change, error) {
	ctx, cancel := context.WithCancel(ctx)
	live, err := s.feed.Subscribe(ctx, collection)
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := s.table.List(ctx, collection)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan document.Change)
	go func() {
		defer cancel()
		defer close(out)
		seen := make(map[string]int64, len(initial))
		for _, snap := range initial {
			seen[snap.ID] = snap.Version
			select {
			case out <- document.Change{Kind: document.ChangeAdded, Snapshot: snap}:
			case <-ctx.Done():
				return
			}
		}
		for c := range live {
			if c.Err == nil {
				if v, ok := seen[c.Snapshot.ID]; ok && c.Snapshot.Version <= v {
					continue
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
