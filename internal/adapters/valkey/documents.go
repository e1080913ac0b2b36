// Package valkey stores remote documents in Valkey. Each document is a hash
// holding its version, update time and JSON encoded top-level fields; each
// collection has an id index set and a logical clock.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
	"github.com/valkey-io/valkey-go"
)

const (
	versionField = "_v"
	updatedField = "_ut"
	fieldPrefix  = "f:"
)

// writeScript bumps the collection clock and writes the document hash. A set
// replaces the hash; a merge overwrites only the given fields. It returns the
// new version, whether the document existed, then the stored hash.
var writeScript = valkey.NewLuaScript(`
local v = redis.call('INCR', KEYS[3])
local existed = redis.call('EXISTS', KEYS[1])
if ARGV[3] == 'set' then
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], '_v', v, '_ut', ARGV[2])
for i = 4, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('SADD', KEYS[2], ARGV[1])
local res = {v, existed}
local h = redis.call('HGETALL', KEYS[1])
for i = 1, #h do
  res[#res + 1] = h[i]
end
return res
`)

// deleteScript removes the document and returns the new clock value, or 0
// when the document did not exist.
var deleteScript = valkey.NewLuaScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
return redis.call('INCR', KEYS[3])
`)

// Documents is the Valkey document table.
type Documents struct {
	client valkey.Client
	now    func() time.Time
}

// New creates a new Valkey document client.
func New(addr, password string) (*Documents, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Documents{client: client, now: time.Now}, nil
}

// The collection is a hash tag so a document and its index share a slot.
func docKey(collection, id string) string { return "gs:{" + collection + "}:doc:" + id }
func indexKey(collection string) string   { return "gs:{" + collection + "}:ids" }
func clockKey(collection string) string   { return "gs:{" + collection + "}:clock" }

// Get returns the document or a NotFoundError.
func (d *Documents) Get(ctx context.Context, collection, id string) (*document.Snapshot, error) {
	h, err := d.client.Do(ctx, d.client.B().Hgetall().Key(docKey(collection, id)).Build()).AsStrMap()
	if err != nil {
		return nil, classify("get", err)
	}
	if len(h) == 0 {
		return nil, domain.NotFound("Document", document.Join(collection, id))
	}
	snap, err := decodeHash(collection, id, h)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Write stores fields and returns the resulting snapshot and whether the
// document existed before.
func (d *Documents) Write(ctx context.Context, collection, id string, fields document.Fields, merge bool) (document.Snapshot, bool, error) {
	op := "set"
	if merge {
		op = "merge"
	}
	args := []string{id, strconv.FormatInt(d.now().UnixNano(), 10), op}
	for k, v := range fields {
		b, err := document.MarshalValue(v)
		if err != nil {
			return document.Snapshot{}, false, domain.NewSyncError(domain.SyncInvalidPayload, op, fmt.Errorf("field %s: %w", k, err))
		}
		args = append(args, fieldPrefix+k, string(b))
	}

	keys := []string{docKey(collection, id), indexKey(collection), clockKey(collection)}
	res, err := writeScript.Exec(ctx, d.client, keys, args).ToArray()
	if err != nil {
		return document.Snapshot{}, false, classify(op, err)
	}
	if len(res) < 2 || len(res)%2 != 0 {
		return document.Snapshot{}, false, fmt.Errorf("valkey %s: unexpected reply of %d elements", op, len(res))
	}
	existed, err := res[1].AsInt64()
	if err != nil {
		return document.Snapshot{}, false, fmt.Errorf("valkey %s: %w", op, err)
	}
	h := make(map[string]string, (len(res)-2)/2)
	for i := 2; i+1 < len(res); i += 2 {
		k, _ := res[i].ToString()
		v, _ := res[i+1].ToString()
		h[k] = v
	}
	snap, err := decodeHash(collection, id, h)
	if err != nil {
		return document.Snapshot{}, false, err
	}
	return snap, existed == 1, nil
}

// Delete removes the document. It returns the collection clock after the
// delete and false when there was nothing to delete.
func (d *Documents) Delete(ctx context.Context, collection, id string) (int64, bool, error) {
	keys := []string{docKey(collection, id), indexKey(collection), clockKey(collection)}
	v, err := deleteScript.Exec(ctx, d.client, keys, []string{id}).AsInt64()
	if err != nil {
		return 0, false, classify("delete", err)
	}
	return v, v > 0, nil
}

// List returns every document of the collection ordered by id.
func (d *Documents) List(ctx context.Context, collection string) ([]document.Snapshot, error) {
	ids, err := d.client.Do(ctx, d.client.B().Smembers().Key(indexKey(collection)).Build()).AsStrSlice()
	if err != nil {
		return nil, classify("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	cmds := make(valkey.Commands, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, d.client.B().Hgetall().Key(docKey(collection, id)).Build())
	}
	out := make([]document.Snapshot, 0, len(ids))
	for i, res := range d.client.DoMulti(ctx, cmds...) {
		h, err := res.AsStrMap()
		if err != nil {
			return nil, classify("list", err)
		}
		if len(h) == 0 {
			// Deleted after the index was read.
			continue
		}
		snap, err := decodeHash(collection, ids[i], h)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Ping checks connectivity.
func (d *Documents) Ping(ctx context.Context) error {
	return d.client.Do(ctx, d.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (d *Documents) Close() {
	d.client.Close()
}

func decodeHash(collection, id string, h map[string]string) (document.Snapshot, error) {
	snap := document.Snapshot{ID: id, Collection: collection, Fields: document.Fields{}}
	var err error
	if snap.Version, err = strconv.ParseInt(h[versionField], 10, 64); err != nil {
		return snap, &domain.StorageError{Op: "decode", Err: fmt.Errorf("%s: bad version: %w", document.Join(collection, id), err)}
	}
	if ns, err := strconv.ParseInt(h[updatedField], 10, 64); err == nil {
		snap.UpdateTime = time.Unix(0, ns).UTC()
	}
	for k, raw := range h {
		name, ok := strings.CutPrefix(k, fieldPrefix)
		if !ok {
			continue
		}
		v, err := document.UnmarshalValue([]byte(raw))
		if err != nil {
			return snap, &domain.StorageError{Op: "decode", Err: fmt.Errorf("%s field %s: %w", document.Join(collection, id), name, err)}
		}
		snap.Fields[name] = v
	}
	return snap, nil
}

// classify maps Valkey server errors onto sync error kinds. Connection level
// failures are Unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := valkey.IsValkeyErr(err); ok {
		msg := ve.Error()
		switch {
		case strings.HasPrefix(msg, "NOAUTH"), strings.HasPrefix(msg, "WRONGPASS"):
			return domain.NewSyncError(domain.SyncUnauthenticated, op, err)
		case strings.HasPrefix(msg, "NOPERM"):
			return domain.NewSyncError(domain.SyncPermissionDenied, op, err)
		case strings.HasPrefix(msg, "OOM"):
			return domain.NewSyncError(domain.SyncQuotaExceeded, op, err)
		case strings.HasPrefix(msg, "BUSY"), strings.HasPrefix(msg, "LOADING"), strings.HasPrefix(msg, "TRYAGAIN"):
			return domain.NewSyncError(domain.SyncRateLimited, op, err)
		}
		return domain.NewSyncError(domain.SyncInvalidPayload, op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewSyncError(domain.SyncUnavailable, op, err)
}
