package ports

import (
	"context"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

// MutationQueue is the durable log of local edits awaiting sync.
type MutationQueue interface {
	// ApplyAndEnqueue appends m and applies its effect to the local cache in a
	// single transaction. Either both happen or neither does.
	ApplyAndEnqueue(ctx context.Context, m *domain.Mutation) error
	// PendingMutations returns queued mutations in enqueue order.
	PendingMutations(ctx context.Context, filter domain.MutationFilter) ([]domain.Mutation, error)
	GetMutation(ctx context.Context, id string) (*domain.Mutation, error)
	// SurveysWithPendingMutations lists survey ids, oldest pending mutation first.
	SurveysWithPendingMutations(ctx context.Context) ([]string, error)
	// ClaimMutation moves a Pending mutation to InProgress. It returns false
	// when the mutation is not Pending.
	ClaimMutation(ctx context.Context, id string) (bool, error)
	MarkMutation(ctx context.Context, id string, update domain.MutationUpdate) error
	RemoveMutation(ctx context.Context, id string) error
	// ResetInProgress returns InProgress mutations left by a crashed drain to Pending.
	ResetInProgress(ctx context.Context) (int, error)
}

// LocationOfInterestStore is the local cache of locations of interest.
type LocationOfInterestStore interface {
	// MergeLocationOfInterest upserts a remotely observed entity if its version
	// is newer than the stored one and no local mutation is queued for it.
	MergeLocationOfInterest(ctx context.Context, loi *domain.LocationOfInterest) (domain.MergeResult, error)
	// RemoveLocationOfInterest deletes a remotely removed entity under the same guard.
	RemoveLocationOfInterest(ctx context.Context, surveyID, id string, version int64) (domain.MergeResult, error)
	GetLocationOfInterest(ctx context.Context, surveyID, id string) (*domain.LocationOfInterest, error)
	ListLocationsOfInterest(ctx context.Context, surveyID string) ([]domain.LocationOfInterest, error)
	// WatchLocationsOfInterest emits the survey's full set once, then again
	// after every local change, until ctx is cancelled.
	WatchLocationsOfInterest(ctx context.Context, surveyID string) (<-chan []domain.LocationOfInterest, error)
}

// SubmissionStore is the local cache of submissions.
type SubmissionStore interface {
	MergeSubmission(ctx context.Context, s *domain.Submission) (domain.MergeResult, error)
	GetSubmission(ctx context.Context, surveyID, id string) (*domain.Submission, error)
	ListSubmissions(ctx context.Context, surveyID, loiID string) ([]domain.Submission, error)
}

// SurveyStore is the local cache of surveys.
type SurveyStore interface {
	UpsertSurvey(ctx context.Context, s *domain.Survey) error
	GetSurvey(ctx context.Context, id string) (*domain.Survey, error)
	ListSurveys(ctx context.Context) ([]domain.Survey, error)
	// DeleteSurvey removes the survey partition: the survey, its locations,
	// submissions and queued mutations.
	DeleteSurvey(ctx context.Context, id string) error
}

// LocalStore is the complete local persistence collaborator.
type LocalStore interface {
	MutationQueue
	LocationOfInterestStore
	SubmissionStore
	SurveyStore
	Ping(ctx context.Context) error
}
