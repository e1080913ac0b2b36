package domain

// EventKind tags a remote change notification.
type EventKind int

const (
	EventLoaded EventKind = iota
	EventModified
	EventRemoved
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventLoaded:
		return "loaded"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	case EventError:
		return "error"
	}
	return "unknown"
}

// RemoteEvent is one change observed on the remote store.
//
// Loaded and Modified carry Entity and Version, Removed carries EntityID and
// Error carries Err. Err events never end the stream that produced them.
type RemoteEvent[T any] struct {
	Kind     EventKind
	EntityID string
	Entity   T
	Version  int64
	Err      error
}

// LoadedEvent builds a Loaded event.
func LoadedEvent[T any](id string, entity T, version int64) RemoteEvent[T] {
	return RemoteEvent[T]{Kind: EventLoaded, EntityID: id, Entity: entity, Version: version}
}

// ModifiedEvent builds a Modified event.
func ModifiedEvent[T any](id string, entity T, version int64) RemoteEvent[T] {
	return RemoteEvent[T]{Kind: EventModified, EntityID: id, Entity: entity, Version: version}
}

// RemovedEvent builds a Removed event.
func RemovedEvent[T any](id string, version int64) RemoteEvent[T] {
	return RemoteEvent[T]{Kind: EventRemoved, EntityID: id, Version: version}
}

// ErrorEvent wraps a subscription failure.
func ErrorEvent[T any](err error) RemoteEvent[T] {
	return RemoteEvent[T]{Kind: EventError, Err: err}
}

// LOIEvent is a remote change to a location of interest.
type LOIEvent = RemoteEvent[*LocationOfInterest]

// MergeResult describes what a merge did to local state.
type MergeResult int

const (
	MergeApplied MergeResult = iota
	MergeStale
	MergeDeferred
	MergeNoop
)

func (r MergeResult) String() string {
	switch r {
	case MergeApplied:
		return "applied"
	case MergeStale:
		return "stale"
	case MergeDeferred:
		return "deferred"
	}
	return "noop"
}
