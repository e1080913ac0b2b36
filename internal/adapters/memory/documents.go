package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
)

// DocumentStore implements ports.DocumentStore in memory. Each collection
// keeps a logical clock that versions every write.
type DocumentStore struct {
	mu       sync.Mutex
	cols     map[string]map[string]document.Snapshot
	clocks   map[string]int64
	watchers map[string]map[*watcher]struct{}
	now      func() time.Time

	// FailWrite, when set, is consulted before every write.
	FailWrite func(op, collection, id string) error
}

// NewDocumentStore returns an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		cols:     make(map[string]map[string]document.Snapshot),
		clocks:   make(map[string]int64),
		watchers: make(map[string]map[*watcher]struct{}),
		now:      time.Now,
	}
}

func (d *DocumentStore) Get(ctx context.Context, collection, id string) (*document.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.cols[collection][id]
	if !ok {
		return nil, domain.NotFound("Document", document.Join(collection, id))
	}
	c := cloneSnapshot(snap)
	return &c, nil
}

func (d *DocumentStore) Set(ctx context.Context, collection, id string, fields document.Fields) (int64, error) {
	return d.write(ctx, "set", collection, id, fields, false)
}

func (d *DocumentStore) Merge(ctx context.Context, collection, id string, fields document.Fields) (int64, error) {
	return d.write(ctx, "merge", collection, id, fields, true)
}

func (d *DocumentStore) write(ctx context.Context, op, collection, id string, fields document.Fields, merge bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	norm, err := document.NormalizeFields(fields)
	if err != nil {
		return 0, domain.NewSyncError(domain.SyncInvalidPayload, op, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWrite != nil {
		if err := d.FailWrite(op, collection, id); err != nil {
			return 0, err
		}
	}
	col, ok := d.cols[collection]
	if !ok {
		col = make(map[string]document.Snapshot)
		d.cols[collection] = col
	}
	prev, existed := col[id]
	next := norm
	if merge && existed {
		next = maps.Clone(prev.Fields)
		maps.Copy(next, norm)
	}
	d.clocks[collection]++
	snap := document.Snapshot{
		ID:         id,
		Collection: collection,
		Version:    d.clocks[collection],
		UpdateTime: d.now().UTC(),
		Fields:     next,
	}
	col[id] = snap
	kind := document.ChangeAdded
	if existed {
		kind = document.ChangeModified
	}
	d.broadcastLocked(collection, document.Change{Kind: kind, Snapshot: cloneSnapshot(snap)})
	return snap.Version, nil
}

func (d *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWrite != nil {
		if err := d.FailWrite("delete", collection, id); err != nil {
			return err
		}
	}
	if _, ok := d.cols[collection][id]; !ok {
		return nil
	}
	delete(d.cols[collection], id)
	d.clocks[collection]++
	d.broadcastLocked(collection, document.Change{
		Kind: document.ChangeRemoved,
		Snapshot: document.Snapshot{
			ID:         id,
			Collection: collection,
			Version:    d.clocks[collection],
			UpdateTime: d.now().UTC(),
		},
	})
	return nil
}

func (d *DocumentStore) List(ctx context.Context, collection string) ([]document.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listLocked(collection), nil
}

func (d *DocumentStore) listLocked(collection string) []document.Snapshot {
	out := make([]document.Snapshot, 0, len(d.cols[collection]))
	for _, snap := range d.cols[collection] {
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch emits existing documents as Added, then live changes.
func (d *DocumentStore) Watch(ctx context.Context, collection string) (<-chan document.Change, error) {
	w := &watcher{signal: make(chan struct{}, 1)}

	d.mu.Lock()
	for _, snap := range d.listLocked(collection) {
		w.queue = append(w.queue, document.Change{Kind: document.ChangeAdded, Snapshot: snap})
	}
	if d.watchers[collection] == nil {
		d.watchers[collection] = make(map[*watcher]struct{})
	}
	d.watchers[collection][w] = struct{}{}
	d.mu.Unlock()
	w.wake()

	out := make(chan document.Change)
	go func() {
		defer close(out)
		defer func() {
			d.mu.Lock()
			delete(d.watchers[collection], w)
			d.mu.Unlock()
		}()
		w.pump(ctx, out)
	}()
	return out, nil
}

// InjectError delivers err to every watcher of collection.
func (d *DocumentStore) InjectError(collection string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcastLocked(collection, document.Change{Err: err})
}

// Watchers reports how many watches are open on collection.
func (d *DocumentStore) Watchers(collection string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watchers[collection])
}

func (d *DocumentStore) broadcastLocked(collection string, c document.Change) {
	for w := range d.watchers[collection] {
		w.push(c)
	}
}

// watcher buffers changes without bound so writers never block on slow readers.
type watcher struct {
	mu     sync.Mutex
	queue  []document.Change
	signal chan struct{}
}

func (w *watcher) push(c document.Change) {
	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()
	w.wake()
}

func (w *watcher) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) pump(ctx context.Context, out chan<- document.Change) {
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, c := range batch {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return
		}
	}
}

func cloneSnapshot(s document.Snapshot) document.Snapshot {
	s.Fields = maps.Clone(s.Fields)
	return s
}
