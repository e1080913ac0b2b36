// Package memory provides in-process implementations of the local and
// remote stores, used for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

// LocalStore implements ports.LocalStore. One mutex serialises every write,
// which trivially satisfies the per-entity transaction requirement.
type LocalStore struct {
	mu        sync.Mutex
	seq       int64
	surveys   map[string]domain.Survey
	lois      map[string]map[string]domain.LocationOfInterest
	subs      map[string]map[string]domain.Submission
	mutations map[string]*domain.Mutation
	watchers  map[string]map[chan struct{}]struct{}

	// FailApply, when set, is called inside ApplyAndEnqueue before anything
	// is written. A non-nil error aborts the transaction.
	FailApply func(m *domain.Mutation) error
}

// NewLocalStore returns an empty store.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		surveys:   make(map[string]domain.Survey),
		lois:      make(map[string]map[string]domain.LocationOfInterest),
		subs:      make(map[string]map[string]domain.Submission),
		mutations: make(map[string]*domain.Mutation),
		watchers:  make(map[string]map[chan struct{}]struct{}),
	}
}

func (s *LocalStore) Ping(ctx context.Context) error { return nil }

// ApplyAndEnqueue appends m and applies it to the cache atomically.
func (s *LocalStore) ApplyAndEnqueue(ctx context.Context, m *domain.Mutation) error {
	if err := m.Validate(); err != nil {
		return &domain.StorageError{Op: "enqueue", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &domain.StorageError{Op: "enqueue", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.mutations[m.ID]; dup {
		return &domain.StorageError{Op: "enqueue", Err: fmt.Errorf("duplicate mutation id %s", m.ID)}
	}
	if s.FailApply != nil {
		if err := s.FailApply(m); err != nil {
			return &domain.StorageError{Op: "enqueue", Err: err}
		}
	}

	switch m.EntityType {
	case domain.EntityLocationOfInterest:
		if m.Operation == domain.OpDelete {
			delete(s.lois[m.SurveyID], m.EntityID)
		} else {
			loi := cloneLOI(*m.LocationOfInterest)
			if prev, ok := s.lois[m.SurveyID][m.EntityID]; ok {
				loi.Version = prev.Version
				if m.Operation == domain.OpUpdate {
					loi.Created = prev.Created
				}
			}
			s.partition(s.lois, m.SurveyID)[m.EntityID] = loi
		}
		s.notifyLocked(m.SurveyID)
	case domain.EntitySubmission:
		if m.Operation == domain.OpDelete {
			delete(s.subs[m.SurveyID], m.EntityID)
		} else {
			sub := cloneSubmission(*m.Submission)
			if prev, ok := s.subs[m.SurveyID][m.EntityID]; ok {
				sub.Version = prev.Version
			}
			if s.subs[m.SurveyID] == nil {
				s.subs[m.SurveyID] = make(map[string]domain.Submission)
			}
			s.subs[m.SurveyID][m.EntityID] = sub
		}
	case domain.EntitySurvey:
		if m.Operation == domain.OpDelete {
			delete(s.surveys, m.EntityID)
		} else {
			sv := cloneSurvey(*m.Survey)
			if prev, ok := s.surveys[m.EntityID]; ok {
				sv.Version = prev.Version
			}
			s.surveys[m.EntityID] = sv
		}
	}

	s.seq++
	q := cloneMutation(*m)
	q.Seq = s.seq
	if q.Status == "" {
		q.Status = domain.MutationPending
	}
	s.mutations[q.ID] = &q
	m.Seq = q.Seq
	m.Status = q.Status
	return nil
}

func (s *LocalStore) partition(m map[string]map[string]domain.LocationOfInterest, surveyID string) map[string]domain.LocationOfInterest {
	p, ok := m[surveyID]
	if !ok {
		p = make(map[string]domain.LocationOfInterest)
		m[surveyID] = p
	}
	return p
}

// PendingMutations returns matching mutations in enqueue order.
func (s *LocalStore) PendingMutations(ctx context.Context, f domain.MutationFilter) ([]domain.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Mutation
	for _, m := range s.mutations {
		if f.Matches(m) {
			out = append(out, cloneMutation(*m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *LocalStore) GetMutation(ctx context.Context, id string) (*domain.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mutations[id]
	if !ok {
		return nil, domain.NotFound("Mutation", id)
	}
	c := cloneMutation(*m)
	return &c, nil
}

func (s *LocalStore) SurveysWithPendingMutations(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := make(map[string]int64)
	for _, m := range s.mutations {
		if m.Status != domain.MutationPending {
			continue
		}
		if seq, ok := oldest[m.SurveyID]; !ok || m.Seq < seq {
			oldest[m.SurveyID] = m.Seq
		}
	}
	out := make([]string, 0, len(oldest))
	for id := range oldest {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return oldest[out[i]] < oldest[out[j]] })
	return out, nil
}

func (s *LocalStore) ClaimMutation(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mutations[id]
	if !ok || m.Status != domain.MutationPending {
		return false, nil
	}
	m.Status = domain.MutationInProgress
	return true, nil
}

func (s *LocalStore) MarkMutation(ctx context.Context, id string, u domain.MutationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mutations[id]
	if !ok {
		return domain.NotFound("Mutation", id)
	}
	m.Status = u.Status
	m.RetryCount = u.RetryCount
	m.LastError = u.LastError
	return nil
}

func (s *LocalStore) RemoveMutation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mutations, id)
	return nil
}

func (s *LocalStore) ResetInProgress(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.mutations {
		if m.Status == domain.MutationInProgress {
			m.Status = domain.MutationPending
			n++
		}
	}
	return n, nil
}

func (s *LocalStore) hasQueuedLocked(entityID string) bool {
	for _, m := range s.mutations {
		if m.EntityID == entityID {
			return true
		}
	}
	return false
}

func (s *LocalStore) MergeLocationOfInterest(ctx context.Context, loi *domain.LocationOfInterest) (domain.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.lois[loi.SurveyID][loi.ID]; ok && prev.Version >= loi.Version {
		return domain.MergeStale, nil
	}
	if s.hasQueuedLocked(loi.ID) {
		return domain.MergeDeferred, nil
	}
	s.partition(s.lois, loi.SurveyID)[loi.ID] = cloneLOI(*loi)
	s.notifyLocked(loi.SurveyID)
	return domain.MergeApplied, nil
}

func (s *LocalStore) RemoveLocationOfInterest(ctx context.Context, surveyID, id string, version int64) (domain.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.lois[surveyID][id]
	if !ok {
		return domain.MergeNoop, nil
	}
	if version > 0 && prev.Version > version {
		return domain.MergeStale, nil
	}
	if s.hasQueuedLocked(id) {
		return domain.MergeDeferred, nil
	}
	delete(s.lois[surveyID], id)
	s.notifyLocked(surveyID)
	return domain.MergeApplied, nil
}

func (s *LocalStore) GetLocationOfInterest(ctx context.Context, surveyID, id string) (*domain.LocationOfInterest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loi, ok := s.lois[surveyID][id]
	if !ok {
		return nil, domain.NotFound("Location of interest", id)
	}
	c := cloneLOI(loi)
	return &c, nil
}

func (s *LocalStore) ListLocationsOfInterest(ctx context.Context, surveyID string) ([]domain.LocationOfInterest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLOIsLocked(surveyID), nil
}

func (s *LocalStore) listLOIsLocked(surveyID string) []domain.LocationOfInterest {
	out := make([]domain.LocationOfInterest, 0, len(s.lois[surveyID]))
	for _, loi := range s.lois[surveyID] {
		out = append(out, cloneLOI(loi))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WatchLocationsOfInterest emits the survey's locations now and after every change.
func (s *LocalStore) WatchLocationsOfInterest(ctx context.Context, surveyID string) (<-chan []domain.LocationOfInterest, error) {
	notify := make(chan struct{}, 1)
	notify <- struct{}{}

	s.mu.Lock()
	if s.watchers[surveyID] == nil {
		s.watchers[surveyID] = make(map[chan struct{}]struct{})
	}
	s.watchers[surveyID][notify] = struct{}{}
	s.mu.Unlock()

	out := make(chan []domain.LocationOfInterest)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.watchers[surveyID], notify)
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
			}
			s.mu.Lock()
			list := s.listLOIsLocked(surveyID)
			s.mu.Unlock()
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *LocalStore) notifyLocked(surveyID string) {
	for ch := range s.watchers[surveyID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *LocalStore) MergeSubmission(ctx context.Context, sub *domain.Submission) (domain.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.subs[sub.SurveyID][sub.ID]; ok && prev.Version >= sub.Version {
		return domain.MergeStale, nil
	}
	if s.hasQueuedLocked(sub.ID) {
		return domain.MergeDeferred, nil
	}
	if s.subs[sub.SurveyID] == nil {
		s.subs[sub.SurveyID] = make(map[string]domain.Submission)
	}
	s.subs[sub.SurveyID][sub.ID] = cloneSubmission(*sub)
	return domain.MergeApplied, nil
}

func (s *LocalStore) GetSubmission(ctx context.Context, surveyID, id string) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[surveyID][id]
	if !ok {
		return nil, domain.NotFound("Submission", id)
	}
	c := cloneSubmission(sub)
	return &c, nil
}

func (s *LocalStore) ListSubmissions(ctx context.Context, surveyID, loiID string) ([]domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Submission
	for _, sub := range s.subs[surveyID] {
		if loiID == "" || sub.LocationOfInterestID == loiID {
			out = append(out, cloneSubmission(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *LocalStore) UpsertSurvey(ctx context.Context, sv *domain.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[sv.ID] = cloneSurvey(*sv)
	return nil
}

func (s *LocalStore) GetSurvey(ctx context.Context, id string) (*domain.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.surveys[id]
	if !ok {
		return nil, domain.NotFound("Survey", id)
	}
	c := cloneSurvey(sv)
	return &c, nil
}

func (s *LocalStore) ListSurveys(ctx context.Context) ([]domain.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Survey, 0, len(s.surveys))
	for _, sv := range s.surveys {
		out = append(out, cloneSurvey(sv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *LocalStore) DeleteSurvey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.surveys, id)
	delete(s.lois, id)
	delete(s.subs, id)
	for mid, m := range s.mutations {
		if m.SurveyID == id {
			delete(s.mutations, mid)
		}
	}
	s.notifyLocked(id)
	return nil
}

func cloneLOI(l domain.LocationOfInterest) domain.LocationOfInterest {
	l.Properties = maps.Clone(l.Properties)
	return l
}

func cloneSubmission(s domain.Submission) domain.Submission {
	s.Responses = maps.Clone(s.Responses)
	return s
}

func cloneSurvey(s domain.Survey) domain.Survey {
	s.Jobs = maps.Clone(s.Jobs)
	return s
}

func cloneMutation(m domain.Mutation) domain.Mutation {
	if m.LocationOfInterest != nil {
		l := cloneLOI(*m.LocationOfInterest)
		m.LocationOfInterest = &l
	}
	if m.Submission != nil {
		s := cloneSubmission(*m.Submission)
		m.Submission = &s
	}
	if m.Survey != nil {
		s := cloneSurvey(*m.Survey)
		m.Survey = &s
	}
	return m
}
