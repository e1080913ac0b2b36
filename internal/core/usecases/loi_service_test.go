package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/groundsync/internal/adapters/memory"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEditDeps(t *testing.T) (usecases.EditDeps, *memory.LocalStore, *mockScheduler) {
	t.Helper()
	store := memory.NewLocalStore()
	if err := store.UpsertSurvey(context.Background(), testSurvey("s1")); err != nil {
		t.Fatalf("seed survey: %v", err)
	}
	sched := &mockScheduler{}
	return usecases.EditDeps{
		Store:       store,
		Scheduler:   sched,
		Users:       mockUsers{user: testUser},
		EntityIDs:   &seqIDs{prefix: "loi"},
		MutationIDs: &seqIDs{prefix: "m"},
		Now:         func() time.Time { return fixedNow },
	}, store, sched
}

func TestLOIService_CreateEnqueuesAndSchedules(t *testing.T) {
	deps, store, sched := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)
	ctx := context.Background()

	loi, err := svc.NewLocationOfInterest(ctx, "s1", "job", testPoint(42, -71))
	if err != nil {
		t.Fatalf("new location: %v", err)
	}
	if loi.ID != "loi1" || loi.Created.User.ID != testUser.ID {
		t.Errorf("unexpected new location: %+v", loi)
	}

	m, err := svc.Create(ctx, loi)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Operation != domain.OpCreate || m.EntityID != "loi1" || m.Seq == 0 {
		t.Errorf("unexpected mutation: %+v", m)
	}
	if !m.ClientTimestamp.Equal(fixedNow) {
		t.Errorf("expected client timestamp %v, got %v", fixedNow, m.ClientTimestamp)
	}
	if sched.calls.Load() != 1 {
		t.Errorf("expected one sync request, got %d", sched.calls.Load())
	}

	got, err := svc.Get(ctx, "s1", "loi1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Geometry != testPoint(42, -71) {
		t.Errorf("unexpected geometry: %+v", got.Geometry)
	}
	queued, _ := store.PendingMutations(ctx, domain.MutationFilter{EntityID: "loi1"})
	if len(queued) != 1 {
		t.Errorf("expected one queued mutation, got %d", len(queued))
	}
}

func TestLOIService_CreateUnknownJob(t *testing.T) {
	deps, _, sched := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)

	loi, _ := svc.NewLocationOfInterest(context.Background(), "s1", "nope", testPoint(0, 0))
	_, err := svc.Create(context.Background(), loi)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err.Error() != "Job not found: nope" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if sched.calls.Load() != 0 {
		t.Error("expected no sync request")
	}
}

func TestLOIService_CreateInvalidGeometry(t *testing.T) {
	deps, _, _ := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)

	line := domain.LineString{Coordinates: []domain.GeoPoint{{Lat: 1, Lon: 1}}}
	loi, _ := svc.NewLocationOfInterest(context.Background(), "s1", "job", line)
	if _, err := svc.Create(context.Background(), loi); !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestLOIService_LocalFailureSchedulesNothing(t *testing.T) {
	deps, store, sched := newEditDeps(t)
	store.FailApply = func(m *domain.Mutation) error { return errors.New("disk full") }
	svc := usecases.NewLocationOfInterestService(deps)

	loi, _ := svc.NewLocationOfInterest(context.Background(), "s1", "job", testPoint(1, 1))
	if _, err := svc.Create(context.Background(), loi); err == nil {
		t.Fatal("expected error")
	}
	if sched.calls.Load() != 0 {
		t.Errorf("expected no sync request, got %d", sched.calls.Load())
	}
	if _, err := store.GetLocationOfInterest(context.Background(), "s1", loi.ID); !domain.IsNotFound(err) {
		t.Errorf("expected nothing written, got %v", err)
	}
}

func TestLOIService_SchedulerErrorIsReported(t *testing.T) {
	deps, store, sched := newEditDeps(t)
	sched.enqueueFn = func(ctx context.Context, surveyID, entityID string) error { return errors.New("temporal down") }
	svc := usecases.NewLocationOfInterestService(deps)

	loi, _ := svc.NewLocationOfInterest(context.Background(), "s1", "job", testPoint(1, 1))
	m, err := svc.Create(context.Background(), loi)
	if !errors.Is(err, domain.ErrSyncNotScheduled) {
		t.Fatalf("expected ErrSyncNotScheduled, got %v", err)
	}
	if m == nil || m.EntityID != loi.ID {
		t.Errorf("expected the queued mutation alongside the error, got %+v", m)
	}
	// The edit itself is durable.
	if _, err := store.GetLocationOfInterest(context.Background(), "s1", loi.ID); err != nil {
		t.Errorf("expected location stored, got %v", err)
	}
}

func TestLOIService_UpdateKeepsCreated(t *testing.T) {
	deps, _, _ := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)
	ctx := context.Background()

	loi, _ := svc.NewLocationOfInterest(ctx, "s1", "job", testPoint(1, 1))
	if _, err := svc.Create(ctx, loi); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := fixedNow.Add(time.Hour)
	deps.Now = func() time.Time { return later }
	svc = usecases.NewLocationOfInterestService(deps)

	loi.Geometry = testPoint(2, 2)
	loi.Created = domain.AuditInfo{}
	if _, err := svc.Update(ctx, loi); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := svc.Get(ctx, "s1", loi.ID)
	if !got.Created.ClientTimestamp.Equal(fixedNow) {
		t.Errorf("expected created to be preserved, got %v", got.Created.ClientTimestamp)
	}
	if !got.LastModified.ClientTimestamp.Equal(later) {
		t.Errorf("expected last modified %v, got %v", later, got.LastModified.ClientTimestamp)
	}
}

func TestLOIService_Delete(t *testing.T) {
	deps, _, _ := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)
	ctx := context.Background()

	if _, err := svc.Delete(ctx, "s1", "missing"); !domain.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	loi, _ := svc.NewLocationOfInterest(ctx, "s1", "job", testPoint(1, 1))
	svc.Create(ctx, loi)
	m, err := svc.Delete(ctx, "s1", loi.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Operation != domain.OpDelete {
		t.Errorf("expected delete mutation, got %s", m.Operation)
	}
	if _, err := svc.Get(ctx, "s1", loi.ID); !domain.IsNotFound(err) {
		t.Errorf("expected location gone, got %v", err)
	}
}

func TestLOIService_GetUnknownSurvey(t *testing.T) {
	deps, _, _ := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)

	_, err := svc.Get(context.Background(), "other", "loi1")
	if err == nil || err.Error() != "Survey not found: other" {
		t.Errorf("expected survey not found, got %v", err)
	}
}

func TestLOIService_ListNear(t *testing.T) {
	deps, _, _ := newEditDeps(t)
	svc := usecases.NewLocationOfInterestService(deps)
	ctx := context.Background()

	for _, p := range []domain.Point{testPoint(43.2630, -2.9350), testPoint(43.2640, -2.9340), testPoint(40.4168, -3.7038)} {
		loi, _ := svc.NewLocationOfInterest(ctx, "s1", "job", p)
		if _, err := svc.Create(ctx, loi); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := svc.List(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(all))
	}

	near, err := svc.List(ctx, "s1", &usecases.NearFilter{
		Center:       domain.GeoPoint{Lat: 43.2630, Lon: -2.9350},
		RadiusMeters: 1000,
	})
	if err != nil {
		t.Fatalf("list near: %v", err)
	}
	if len(near) != 2 {
		t.Errorf("expected 2 nearby locations, got %d", len(near))
	}
}
