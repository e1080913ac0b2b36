// Package remote maps surveys, locations of interest and submissions onto
// the remote document store and turns its change notifications into domain
// events.
package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/pkg/document"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
)

// Store implements ports.RemoteDataStore over a ports.DocumentStore.
type Store struct {
	docs ports.DocumentStore
	log  *slog.Logger
}

// NewStore creates a new Store.
func NewStore(docs ports.DocumentStore) *Store {
	return &Store{docs: docs, log: logging.Component("remote")}
}

func (s *Store) LoadSurvey(ctx context.Context, id string) (*domain.Survey, error) {
	snap, err := s.docs.Get(ctx, surveysCollection, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NotFound("Survey", id)
		}
		return nil, err
	}
	return SurveyFromSnapshot(*snap, s.log), nil
}

func (s *Store) ListSurveys(ctx context.Context) ([]domain.Survey, error) {
	snaps, err := s.docs.List(ctx, surveysCollection)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Survey, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, *SurveyFromSnapshot(snap, s.log))
	}
	return out, nil
}

// PutSurvey writes a whole survey document. Surveys are authored outside the
// sync path, so this is used by seeding tools only.
func (s *Store) PutSurvey(ctx context.Context, survey *domain.Survey) (int64, error) {
	return s.docs.Set(ctx, surveysCollection, survey.ID, SurveyToFields(survey))
}

// ApplyMutation performs m against the remote store. Create writes the whole
// document, Update overwrites top-level fields other than the creation audit
// and Delete is idempotent.
func (s *Store) ApplyMutation(ctx context.Context, m *domain.Mutation) error {
	switch m.EntityType {
	case domain.EntityLocationOfInterest:
		return s.applyLOI(ctx, m)
	case domain.EntitySubmission:
		return s.applySubmission(ctx, m)
	case domain.EntitySurvey:
		return s.applySurvey(ctx, m)
	}
	return domain.NewSyncError(domain.SyncInvalidPayload, "apply", fmt.Errorf("unknown entity type %q", m.EntityType))
}

func (s *Store) applyLOI(ctx context.Context, m *domain.Mutation) error {
	col := LOICollection(m.SurveyID)
	if m.Operation == domain.OpDelete {
		return s.docs.Delete(ctx, col, m.EntityID)
	}
	fields, err := LOIToFields(m.LocationOfInterest)
	if err != nil {
		return err
	}
	return s.write(ctx, m.Operation, col, m.EntityID, fields)
}

func (s *Store) applySubmission(ctx context.Context, m *domain.Mutation) error {
	col := SubmissionCollection(m.SurveyID)
	if m.Operation == domain.OpDelete {
		return s.docs.Delete(ctx, col, m.EntityID)
	}
	return s.write(ctx, m.Operation, col, m.EntityID, SubmissionToFields(m.Submission))
}

func (s *Store) applySurvey(ctx context.Context, m *domain.Mutation) error {
	if m.Operation != domain.OpUpdate {
		return domain.NewSyncError(domain.SyncPermissionDenied, "apply",
			fmt.Errorf("surveys cannot be %sd from the field", m.Operation))
	}
	_, err := s.docs.Merge(ctx, surveysCollection, m.EntityID, document.Fields{
		fieldTitle:       m.Survey.Title,
		fieldDescription: m.Survey.Description,
	})
	return err
}

func (s *Store) write(ctx context.Context, op domain.Operation, col, id string, fields document.Fields) error {
	var (
		v   int64
		err error
	)
	if op == domain.OpCreate {
		v, err = s.docs.Set(ctx, col, id, fields)
	} else {
		delete(fields, fieldCreated)
		v, err = s.docs.Merge(ctx, col, id, fields)
	}
	if err != nil {
		return err
	}
	s.log.Debug("document written", "path", document.Join(col, id), "op", op, "version", v)
	return nil
}

// SubscribeLocationsOfInterest watches the survey's location collection.
// Documents that fail to decode arrive as Error events and the subscription
// continues.
func (s *Store) SubscribeLocationsOfInterest(ctx context.Context, surveyID string) (<-chan domain.LOIEvent, error) {
	changes, err := s.docs.Watch(ctx, LOICollection(surveyID))
	if err != nil {
		return nil, err
	}
	return translate(ctx, changes, func(snap document.Snapshot) (*domain.LocationOfInterest, error) {
		return LOIFromSnapshot(surveyID, snap)
	}), nil
}

// SubscribeSubmissions watches the survey's submission collection.
func (s *Store) SubscribeSubmissions(ctx context.Context, surveyID string) (<-chan domain.RemoteEvent[*domain.Submission], error) {
	changes, err := s.docs.Watch(ctx, SubmissionCollection(surveyID))
	if err != nil {
		return nil, err
	}
	return translate(ctx, changes, func(snap document.Snapshot) (*domain.Submission, error) {
		return SubmissionFromSnapshot(surveyID, snap), nil
	}), nil
}

// translate maps document changes to domain events until the change channel
// closes or ctx is cancelled.
func translate[T any](ctx context.Context, changes <-chan document.Change, decode func(document.Snapshot) (T, error)) <-chan domain.RemoteEvent[T] {
	out := make(chan domain.RemoteEvent[T])
	go func() {
		defer close(out)
		for c := range changes {
			ev := toEvent(c, decode)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func toEvent[T any](c document.Change, decode func(document.Snapshot) (T, error)) domain.RemoteEvent[T] {
	if c.Err != nil {
		return domain.ErrorEvent[T](c.Err)
	}
	id, v := c.Snapshot.ID, c.Snapshot.Version
	if c.Kind == document.ChangeRemoved {
		return domain.RemovedEvent[T](id, v)
	}
	entity, err := decode(c.Snapshot)
	if err != nil {
		return domain.ErrorEvent[T](err)
	}
	if c.Kind == document.ChangeAdded {
		return domain.LoadedEvent(id, entity, v)
	}
	return domain.ModifiedEvent(id, entity, v)
}
