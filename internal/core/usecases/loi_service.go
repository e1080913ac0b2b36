package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/pkg/geospatial"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"github.com/samirrijal/groundsync/internal/pkg/metrics"
)

// EditDeps are the collaborators shared by the services that record local edits.
type EditDeps struct {
	Store       ports.LocalStore
	Scheduler   ports.SyncScheduler
	Users       ports.UserResolver
	EntityIDs   ports.IDGenerator
	MutationIDs ports.IDGenerator
	Now         func() time.Time
}

func (d EditDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// enqueue writes m through the local transaction, then asks for a background
// sync. Nothing is scheduled when the local write fails.
func (d EditDeps) enqueue(ctx context.Context, m *domain.Mutation) error {
	if err := d.Store.ApplyAndEnqueue(ctx, m); err != nil {
		return err
	}
	metrics.MutationsEnqueued.WithLabelValues(string(m.EntityType), string(m.Operation)).Inc()
	if err := d.Scheduler.EnqueueSync(ctx, m.SurveyID, m.EntityID); err != nil {
		return fmt.Errorf("%w for %s: %w", domain.ErrSyncNotScheduled, m.EntityID, err)
	}
	return nil
}

// queued returns m alongside err when the edit is durable and only the
// background sync request failed.
func queued(m *domain.Mutation, err error) (*domain.Mutation, error) {
	if errors.Is(err, domain.ErrSyncNotScheduled) {
		return m, err
	}
	return nil, err
}

func (d EditDeps) newMutation(ctx context.Context, surveyID string, et domain.EntityType, entityID string, op domain.Operation) (*domain.Mutation, domain.User, error) {
	user, err := d.Users.CurrentUser(ctx)
	if err != nil {
		return nil, domain.User{}, err
	}
	return &domain.Mutation{
		ID:              d.MutationIDs.NewID(),
		SurveyID:        surveyID,
		EntityType:      et,
		EntityID:        entityID,
		Operation:       op,
		Author:          user.ID,
		ClientTimestamp: d.now().UTC(),
		Status:          domain.MutationPending,
	}, user, nil
}

// LocationOfInterestService records edits to locations of interest and reads
// them from the local cache.
type LocationOfInterestService struct {
	deps EditDeps
	log  *slog.Logger
}

// NewLocationOfInterestService creates a new LocationOfInterestService.
func NewLocationOfInterestService(deps EditDeps) *LocationOfInterestService {
	return &LocationOfInterestService{deps: deps, log: logging.Component("loi")}
}

// NewLocationOfInterest builds an unsaved location stamped with the current
// user and time.
func (s *LocationOfInterestService) NewLocationOfInterest(ctx context.Context, surveyID, jobID string, g domain.Geometry) (*domain.LocationOfInterest, error) {
	user, err := s.deps.Users.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	audit := domain.NewAuditInfo(user, s.deps.now())
	return &domain.LocationOfInterest{
		ID:           s.deps.EntityIDs.NewID(),
		SurveyID:     surveyID,
		JobID:        jobID,
		Geometry:     g,
		Created:      audit,
		LastModified: audit,
	}, nil
}

func (s *LocationOfInterestService) checkJob(ctx context.Context, loi *domain.LocationOfInterest) error {
	survey, err := s.deps.Store.GetSurvey(ctx, loi.SurveyID)
	if err != nil {
		return err
	}
	if _, ok := survey.Jobs[loi.JobID]; !ok {
		return domain.NotFound("Job", loi.JobID)
	}
	if loi.Geometry == nil {
		return fmt.Errorf("location %s: %w: missing geometry", loi.ID, domain.ErrInvalidGeometry)
	}
	return loi.Geometry.Validate()
}

// Create records a new location.
func (s *LocationOfInterestService) Create(ctx context.Context, loi *domain.LocationOfInterest) (*domain.Mutation, error) {
	return s.write(ctx, loi, domain.OpCreate)
}

// Update records a change to an existing location.
func (s *LocationOfInterestService) Update(ctx context.Context, loi *domain.LocationOfInterest) (*domain.Mutation, error) {
	return s.write(ctx, loi, domain.OpUpdate)
}

func (s *LocationOfInterestService) write(ctx context.Context, loi *domain.LocationOfInterest, op domain.Operation) (*domain.Mutation, error) {
	if err := s.checkJob(ctx, loi); err != nil {
		return nil, err
	}
	m, user, err := s.deps.newMutation(ctx, loi.SurveyID, domain.EntityLocationOfInterest, loi.ID, op)
	if err != nil {
		return nil, err
	}
	c := *loi
	c.Properties = maps.Clone(loi.Properties)
	c.LastModified = domain.NewAuditInfo(user, m.ClientTimestamp)
	if op == domain.OpCreate && c.Created.User.ID == "" {
		c.Created = c.LastModified
	}
	m.LocationOfInterest = &c
	if err := s.deps.enqueue(ctx, m); err != nil {
		return queued(m, err)
	}
	s.log.Debug("location of interest queued", "survey", loi.SurveyID, "loi", loi.ID, "op", op)
	return m, nil
}

// Delete records the removal of a location.
func (s *LocationOfInterestService) Delete(ctx context.Context, surveyID, id string) (*domain.Mutation, error) {
	if _, err := s.Get(ctx, surveyID, id); err != nil {
		return nil, err
	}
	m, _, err := s.deps.newMutation(ctx, surveyID, domain.EntityLocationOfInterest, id, domain.OpDelete)
	if err != nil {
		return nil, err
	}
	if err := s.deps.enqueue(ctx, m); err != nil {
		return queued(m, err)
	}
	return m, nil
}

// Get returns a location from the local cache of an active survey.
func (s *LocationOfInterestService) Get(ctx context.Context, surveyID, id string) (*domain.LocationOfInterest, error) {
	if _, err := s.deps.Store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	return s.deps.Store.GetLocationOfInterest(ctx, surveyID, id)
}

// NearFilter restricts a listing to locations whose centroid lies within
// RadiusMeters of Center.
type NearFilter struct {
	Center       domain.GeoPoint
	RadiusMeters float64
}

// List returns the survey's locations, optionally filtered by distance.
func (s *LocationOfInterestService) List(ctx context.Context, surveyID string, near *NearFilter) ([]domain.LocationOfInterest, error) {
	if _, err := s.deps.Store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	lois, err := s.deps.Store.ListLocationsOfInterest(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if near == nil {
		return lois, nil
	}
	out := lois[:0]
	for _, l := range lois {
		c, ok := domain.Centroid(l.Geometry)
		if !ok {
			continue
		}
		if geospatial.Within(near.Center, c, near.RadiusMeters) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Watch emits the survey's locations once and again after every local change.
func (s *LocationOfInterestService) Watch(ctx context.Context, surveyID string) (<-chan []domain.LocationOfInterest, error) {
	return s.deps.Store.WatchLocationsOfInterest(ctx, surveyID)
}
