// Package ids provides the identifier generators used for entities and
// queued mutations.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// UUID generates random entity identifiers that are safe to mint offline.
type UUID struct{}

func (UUID) NewID() string { return uuid.NewString() }

// ULID generates lexicographically sortable mutation identifiers. IDs minted
// within the same millisecond are monotonic.
type ULID struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULID returns a ULID generator backed by crypto/rand.
func NewULID() *ULID {
	return &ULID{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (g *ULID) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}
