package usecases

import (
	"context"
	"maps"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

// SubmissionService records responses collected for locations of interest.
type SubmissionService struct {
	deps EditDeps
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(deps EditDeps) *SubmissionService {
	return &SubmissionService{deps: deps}
}

// NewSubmission builds an empty submission for a location.
func (s *SubmissionService) NewSubmission(ctx context.Context, surveyID, loiID string) (*domain.Submission, error) {
	loi, err := s.deps.Store.GetLocationOfInterest(ctx, surveyID, loiID)
	if err != nil {
		return nil, err
	}
	user, err := s.deps.Users.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	audit := domain.NewAuditInfo(user, s.deps.now())
	return &domain.Submission{
		ID:                   s.deps.EntityIDs.NewID(),
		SurveyID:             surveyID,
		LocationOfInterestID: loiID,
		JobID:                loi.JobID,
		Responses:            map[string]any{},
		Created:              audit,
		LastModified:         audit,
	}, nil
}

func (s *SubmissionService) Create(ctx context.Context, sub *domain.Submission) (*domain.Mutation, error) {
	return s.write(ctx, sub, domain.OpCreate)
}

func (s *SubmissionService) Update(ctx context.Context, sub *domain.Submission) (*domain.Mutation, error) {
	return s.write(ctx, sub, domain.OpUpdate)
}

func (s *SubmissionService) write(ctx context.Context, sub *domain.Submission, op domain.Operation) (*domain.Mutation, error) {
	if _, err := s.deps.Store.GetLocationOfInterest(ctx, sub.SurveyID, sub.LocationOfInterestID); err != nil {
		return nil, err
	}
	m, user, err := s.deps.newMutation(ctx, sub.SurveyID, domain.EntitySubmission, sub.ID, op)
	if err != nil {
		return nil, err
	}
	c := *sub
	c.Responses = maps.Clone(sub.Responses)
	c.LastModified = domain.NewAuditInfo(user, m.ClientTimestamp)
	if op == domain.OpCreate && c.Created.User.ID == "" {
		c.Created = c.LastModified
	}
	m.Submission = &c
	if err := s.deps.enqueue(ctx, m); err != nil {
		return queued(m, err)
	}
	return m, nil
}

func (s *SubmissionService) Delete(ctx context.Context, surveyID, id string) (*domain.Mutation, error) {
	if _, err := s.deps.Store.GetSubmission(ctx, surveyID, id); err != nil {
		return nil, err
	}
	m, _, err := s.deps.newMutation(ctx, surveyID, domain.EntitySubmission, id, domain.OpDelete)
	if err != nil {
		return nil, err
	}
	if err := s.deps.enqueue(ctx, m); err != nil {
		return queued(m, err)
	}
	return m, nil
}

func (s *SubmissionService) Get(ctx context.Context, surveyID, id string) (*domain.Submission, error) {
	return s.deps.Store.GetSubmission(ctx, surveyID, id)
}

// List returns the submissions of a survey, optionally for one location.
func (s *SubmissionService) List(ctx context.Context, surveyID, loiID string) ([]domain.Submission, error) {
	if _, err := s.deps.Store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	return s.deps.Store.ListSubmissions(ctx, surveyID, loiID)
}
