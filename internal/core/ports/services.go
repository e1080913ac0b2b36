package ports

import (
	"context"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/document"
)

// DocumentStore is the remote document database: nested-map documents
// addressed by collection path and id, with change notifications.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*document.Snapshot, error)
	// Set replaces the document and returns its new version.
	Set(ctx context.Context, collection, id string, fields document.Fields) (int64, error)
	// Merge overwrites the given top-level fields, creating the document if needed.
	Merge(ctx context.Context, collection, id string, fields document.Fields) (int64, error)
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]document.Snapshot, error)
	// Watch emits every existing document as Added, then live changes, until
	// ctx is cancelled. Delivery problems arrive as Changes with Err set.
	Watch(ctx context.Context, collection string) (<-chan document.Change, error)
}

// RemoteDataStore maps domain entities onto the remote document store.
type RemoteDataStore interface {
	LoadSurvey(ctx context.Context, id string) (*domain.Survey, error)
	ListSurveys(ctx context.Context) ([]domain.Survey, error)
	// ApplyMutation performs m against the remote store.
	ApplyMutation(ctx context.Context, m *domain.Mutation) error
	// SubscribeLocationsOfInterest streams the survey's locations as change
	// events. The channel closes when ctx is cancelled or the watch ends.
	SubscribeLocationsOfInterest(ctx context.Context, surveyID string) (<-chan domain.LOIEvent, error)
	SubscribeSubmissions(ctx context.Context, surveyID string) (<-chan domain.RemoteEvent[*domain.Submission], error)
}

// SyncScheduler requests a background drain for a survey.
type SyncScheduler interface {
	EnqueueSync(ctx context.Context, surveyID, entityID string) error
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() string
}

// UserResolver returns the user making the current request.
type UserResolver interface {
	CurrentUser(ctx context.Context) (domain.User, error)
}
