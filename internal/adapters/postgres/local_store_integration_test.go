//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/samirrijal/groundsync/internal/adapters/postgres"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/pkg/config"
)

// setupTestStore connects to the test database and applies the schema.
func setupTestStore(t *testing.T) *postgres.LocalStore {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg, err := config.Load("groundsync-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	for _, f := range []string{"../../../migrations/001_local_cache.down.sql", "../../../migrations/001_local_cache.up.sql"} {
		sql, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
	return postgres.NewLocalStore(db)
}

func loiMutation(id, entityID string, op domain.Operation) *domain.Mutation {
	m := &domain.Mutation{
		ID:              id,
		SurveyID:        "s1",
		EntityType:      domain.EntityLocationOfInterest,
		EntityID:        entityID,
		Operation:       op,
		ClientTimestamp: time.Now().UTC(),
	}
	if op != domain.OpDelete {
		m.LocationOfInterest = &domain.LocationOfInterest{
			ID:       entityID,
			SurveyID: "s1",
			JobID:    "job",
			Geometry: domain.Point{Coordinates: domain.GeoPoint{Lat: 43.26, Lon: -2.93}},
		}
	}
	return m
}

func TestLocalStore_QueueLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, m := range []*domain.Mutation{
		loiMutation("m1", "a", domain.OpCreate),
		loiMutation("m2", "a", domain.OpUpdate),
		loiMutation("m3", "b", domain.OpCreate),
	} {
		if err := store.ApplyAndEnqueue(ctx, m); err != nil {
			t.Fatalf("enqueue %s: %v", m.ID, err)
		}
	}
	if err := store.ApplyAndEnqueue(ctx, loiMutation("m1", "c", domain.OpCreate)); err == nil {
		t.Error("expected duplicate mutation id to fail")
	}
	if _, err := store.GetLocationOfInterest(ctx, "s1", "c"); !domain.IsNotFound(err) {
		t.Errorf("expected failed enqueue to leave no trace, got %v", err)
	}

	queued, err := store.PendingMutations(ctx, domain.MutationFilter{SurveyID: "s1"})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(queued) != 3 || queued[0].ID != "m1" || queued[2].ID != "m3" {
		t.Fatalf("unexpected queue order: %+v", queued)
	}
	if queued[1].LocationOfInterest == nil || queued[1].LocationOfInterest.Geometry == nil {
		t.Error("expected payload to round trip")
	}

	ok, err := store.ClaimMutation(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if ok, _ := store.ClaimMutation(ctx, "m1"); ok {
		t.Error("expected second claim to fail")
	}
	if n, _ := store.ResetInProgress(ctx); n != 1 {
		t.Errorf("expected 1 reset, got %d", n)
	}

	res, err := store.MergeLocationOfInterest(ctx, &domain.LocationOfInterest{
		ID: "a", SurveyID: "s1", JobID: "job", Version: 5,
		Geometry: domain.Point{Coordinates: domain.GeoPoint{Lat: 1, Lon: 1}},
	})
	if err != nil || res != domain.MergeDeferred {
		t.Errorf("expected deferred merge, got %s %v", res, err)
	}

	for _, id := range []string{"m1", "m2"} {
		store.RemoveMutation(ctx, id)
	}
	res, _ = store.MergeLocationOfInterest(ctx, &domain.LocationOfInterest{
		ID: "a", SurveyID: "s1", JobID: "job", Version: 5,
		Geometry: domain.Point{Coordinates: domain.GeoPoint{Lat: 1, Lon: 1}},
	})
	if res != domain.MergeApplied {
		t.Errorf("expected applied merge, got %s", res)
	}
	got, _ := store.GetLocationOfInterest(ctx, "s1", "a")
	if got.Version != 5 {
		t.Errorf("expected version 5, got %d", got.Version)
	}
}

func TestLocalStore_WatchSeesChanges(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := store.WatchLocationsOfInterest(ctx, "s1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if first := <-updates; len(first) != 0 {
		t.Fatalf("expected empty initial set, got %d", len(first))
	}
	if err := store.ApplyAndEnqueue(ctx, loiMutation("m1", "a", domain.OpCreate)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case lois := <-updates:
		if len(lois) != 1 {
			t.Errorf("expected 1 location, got %d", len(lois))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
