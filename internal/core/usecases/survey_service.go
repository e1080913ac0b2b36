package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SurveyService activates surveys for offline use and manages their local partitions.
type SurveyService struct {
	deps    EditDeps
	remote  ports.RemoteDataStore
	streams *SyncSupervisor
	tracer  trace.Tracer
	log     *slog.Logger
}

// NewSurveyService creates a new SurveyService. streams may be nil, in which
// case activation only downloads the survey.
func NewSurveyService(deps EditDeps, remote ports.RemoteDataStore, streams *SyncSupervisor) *SurveyService {
	return &SurveyService{
		deps:    deps,
		remote:  remote,
		streams: streams,
		tracer:  otel.Tracer("groundsync/surveys"),
		log:     logging.Component("surveys"),
	}
}

// Activate downloads the survey into the local cache and starts streaming
// its remote changes.
func (s *SurveyService) Activate(ctx context.Context, id string) (*domain.Survey, error) {
	ctx, span := s.tracer.Start(ctx, "SurveyService.Activate", trace.WithAttributes(attribute.String("survey.id", id)))
	defer span.End()

	survey, err := s.remote.LoadSurvey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load survey %s: %w", id, err)
	}
	if err := s.deps.Store.UpsertSurvey(ctx, survey); err != nil {
		return nil, fmt.Errorf("store survey %s: %w", id, err)
	}
	if s.streams != nil {
		s.streams.Start(id)
	}
	s.log.Info("survey activated", "survey", id, "jobs", len(survey.Jobs))
	return survey, nil
}

// Sync downloads the survey and then merges remote changes in the calling
// goroutine until ctx is cancelled.
func (s *SurveyService) Sync(ctx context.Context, id string) error {
	if s.streams == nil {
		return fmt.Errorf("sync survey %s: no change stream configured", id)
	}
	survey, err := s.remote.LoadSurvey(ctx, id)
	if err != nil {
		return fmt.Errorf("load survey %s: %w", id, err)
	}
	if err := s.deps.Store.UpsertSurvey(ctx, survey); err != nil {
		return fmt.Errorf("store survey %s: %w", id, err)
	}
	return s.streams.stream.Run(ctx, id)
}

// Available lists the surveys offered by the remote store.
func (s *SurveyService) Available(ctx context.Context) ([]domain.Survey, error) {
	return s.remote.ListSurveys(ctx)
}

func (s *SurveyService) Get(ctx context.Context, id string) (*domain.Survey, error) {
	return s.deps.Store.GetSurvey(ctx, id)
}

// List returns the locally active surveys.
func (s *SurveyService) List(ctx context.Context) ([]domain.Survey, error) {
	return s.deps.Store.ListSurveys(ctx)
}

// Update records a change to survey metadata.
func (s *SurveyService) Update(ctx context.Context, survey *domain.Survey) (*domain.Mutation, error) {
	if _, err := s.deps.Store.GetSurvey(ctx, survey.ID); err != nil {
		return nil, err
	}
	m, _, err := s.deps.newMutation(ctx, survey.ID, domain.EntitySurvey, survey.ID, domain.OpUpdate)
	if err != nil {
		return nil, err
	}
	c := *survey
	m.Survey = &c
	if err := s.deps.enqueue(ctx, m); err != nil {
		return queued(m, err)
	}
	return m, nil
}

// Clear removes the survey's offline data. Unsynced edits would be lost, so
// Clear refuses while any are queued unless force is set.
func (s *SurveyService) Clear(ctx context.Context, id string, force bool) error {
	if _, err := s.deps.Store.GetSurvey(ctx, id); err != nil {
		return err
	}
	queued, err := s.deps.Store.PendingMutations(ctx, domain.MutationFilter{SurveyID: id})
	if err != nil {
		return err
	}
	if len(queued) > 0 && !force {
		return fmt.Errorf("clear survey %s: %d queued: %w", id, len(queued), domain.ErrPendingMutations)
	}
	if s.streams != nil {
		s.streams.Stop(id)
	}
	if err := s.deps.Store.DeleteSurvey(ctx, id); err != nil {
		return err
	}
	s.log.Info("survey cleared", "survey", id, "discarded_mutations", len(queued))
	return nil
}

// StreamStatus reports the state of the survey's remote subscription.
func (s *SurveyService) StreamStatus(id string) StreamStatus {
	if s.streams == nil {
		return StreamStatus{SurveyID: id}
	}
	return s.streams.Status(id)
}
