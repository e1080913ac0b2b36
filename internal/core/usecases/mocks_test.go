package usecases_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samirrijal/groundsync/internal/core/domain"
)

// --- Mock RemoteDataStore ---

type mockRemote struct {
	loadSurveyFn  func(ctx context.Context, id string) (*domain.Survey, error)
	listSurveysFn func(ctx context.Context) ([]domain.Survey, error)
	applyFn       func(ctx context.Context, m *domain.Mutation) error
	subLOIsFn     func(ctx context.Context, surveyID string) (<-chan domain.LOIEvent, error)
	subSubsFn     func(ctx context.Context, surveyID string) (<-chan domain.RemoteEvent[*domain.Submission], error)

	mu      sync.Mutex
	applied []string
}

func (m *mockRemote) LoadSurvey(ctx context.Context, id string) (*domain.Survey, error) {
	if m.loadSurveyFn != nil {
		return m.loadSurveyFn(ctx, id)
	}
	return nil, domain.NotFound("Survey", id)
}

func (m *mockRemote) ListSurveys(ctx context.Context) ([]domain.Survey, error) {
	if m.listSurveysFn != nil {
		return m.listSurveysFn(ctx)
	}
	return nil, nil
}

func (m *mockRemote) ApplyMutation(ctx context.Context, mut *domain.Mutation) error {
	if m.applyFn != nil {
		if err := m.applyFn(ctx, mut); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.applied = append(m.applied, mut.ID)
	m.mu.Unlock()
	return nil
}

func (m *mockRemote) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

func (m *mockRemote) SubscribeLocationsOfInterest(ctx context.Context, surveyID string) (<-chan domain.LOIEvent, error) {
	if m.subLOIsFn != nil {
		return m.subLOIsFn(ctx, surveyID)
	}
	return idle[domain.LOIEvent](ctx), nil
}

func (m *mockRemote) SubscribeSubmissions(ctx context.Context, surveyID string) (<-chan domain.RemoteEvent[*domain.Submission], error) {
	if m.subSubsFn != nil {
		return m.subSubsFn(ctx, surveyID)
	}
	return idle[domain.RemoteEvent[*domain.Submission]](ctx), nil
}

// idle returns a channel that stays silent until ctx is cancelled.
func idle[T any](ctx context.Context) <-chan T {
	ch := make(chan T)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// --- Mock SyncScheduler ---

type mockScheduler struct {
	enqueueFn func(ctx context.Context, surveyID, entityID string) error
	calls     atomic.Int32
}

func (m *mockScheduler) EnqueueSync(ctx context.Context, surveyID, entityID string) error {
	m.calls.Add(1)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, surveyID, entityID)
	}
	return nil
}

// --- Mock UserResolver ---

type mockUsers struct {
	user domain.User
	err  error
}

func (m mockUsers) CurrentUser(ctx context.Context) (domain.User, error) {
	return m.user, m.err
}

// --- Sequential IDGenerator ---

type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (g *seqIDs) NewID() string {
	return fmt.Sprintf("%s%d", g.prefix, g.n.Add(1))
}

// --- Fixtures ---

var testUser = domain.User{ID: "user1", Email: "user@gmail.com", DisplayName: "User 1"}

func testSurvey(id string) *domain.Survey {
	return &domain.Survey{
		ID:    id,
		Title: "Survey " + id,
		Jobs: map[string]domain.Job{
			"job": {ID: "job", Name: "Job", Style: domain.Style{Color: "#ff0000"}},
		},
	}
}

func testPoint(lat, lon float64) domain.Point {
	return domain.Point{Coordinates: domain.GeoPoint{Lat: lat, Lon: lon}}
}

func loiMutation(id, surveyID, entityID string, op domain.Operation) *domain.Mutation {
	m := &domain.Mutation{
		ID:         id,
		SurveyID:   surveyID,
		EntityType: domain.EntityLocationOfInterest,
		EntityID:   entityID,
		Operation:  op,
		Author:     testUser.ID,
	}
	if op != domain.OpDelete {
		m.LocationOfInterest = &domain.LocationOfInterest{
			ID:       entityID,
			SurveyID: surveyID,
			JobID:    "job",
			Geometry: testPoint(42.0, -71.0),
		}
	}
	return m
}
