//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/groundsync/internal/adapters/http"
	"github.com/samirrijal/groundsync/internal/adapters/memory"
	"github.com/samirrijal/groundsync/internal/adapters/postgres"
	"github.com/samirrijal/groundsync/internal/adapters/remote"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/auth"
	"github.com/samirrijal/groundsync/internal/pkg/config"
	"github.com/samirrijal/groundsync/internal/pkg/ids"
)

// setupTestDB connects to the test database and recreates the local cache schema.
func setupTestDB(t *testing.T) *postgres.DB {
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
	return db
}

// newPostgresEnv wires the API against a real local store and an in-memory remote.
func newPostgresEnv(t *testing.T) (*testEnv, *postgres.LocalStore) {
	t.Helper()
	db := setupTestDB(t)
	local := postgres.NewLocalStore(db)
	docs := memory.NewDocumentStore()
	rs := remote.NewStore(docs)

	if _, err := rs.PutSurvey(context.Background(), &domain.Survey{
		ID:    "s1",
		Title: "Street trees",
		Jobs:  map[string]domain.Job{"job": {ID: "job", Name: "Trees"}},
	}); err != nil {
		t.Fatalf("seed remote survey: %v", err)
	}

	engine := usecases.NewSyncEngine(local, rs, usecases.SyncConfig{
		RetryBudget:      2,
		AttemptsPerDrain: 1,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
	})
	edit := usecases.EditDeps{
		Store:       local,
		Scheduler:   usecases.NewSyncLoop(engine, time.Hour),
		Users:       auth.ContextResolver{},
		EntityIDs:   ids.UUID{},
		MutationIDs: ids.NewULID(),
	}
	verifier := auth.NewVerifier(testSecret, "groundsync")
	token, err := verifier.Issue(fieldUser, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	deps := &handler.Dependencies{
		Surveys:     usecases.NewSurveyService(edit, rs, nil),
		LOIs:        usecases.NewLocationOfInterestService(edit),
		Submissions: usecases.NewSubmissionService(edit),
		Engine:      engine,
		Auth:        verifier,
		DB:          local,
	}

	app := handler.NewApp(fiber.Config{})
	handler.SetupRoutes(app, deps, handler.RouterOptions{OpenAPIPath: "../../../api/openapi.yaml"})
	return &testEnv{app: app, docs: docs, remote: rs, token: token}, local
}

func TestIntegration_Ready(t *testing.T) {
	env, _ := newPostgresEnv(t)

	resp, body := env.do(t, "GET", "/v1/ready", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
}

func TestIntegration_EditSyncRoundTrip(t *testing.T) {
	env, local := newPostgresEnv(t)
	env.activate(t)

	id := env.createPoint(t, 43.26, -2.93)

	ctx := context.Background()
	pending, err := local.PendingMutations(ctx, domain.MutationFilter{SurveyID: "s1"})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued mutation, got %d", len(pending))
	}

	resp, body := env.do(t, "POST", "/v1/surveys/s1/sync", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("sync: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var report struct {
		Synced int `json:"synced"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Synced != 1 {
		t.Errorf("expected 1 synced mutation, got %d", report.Synced)
	}

	pending, err = local.PendingMutations(ctx, domain.MutationFilter{SurveyID: "s1"})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue after sync, got %d", len(pending))
	}

	resp, body = env.do(t, "GET", "/v1/surveys/s1/lois/"+id, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("get loi: expected 200, got %d: %s", resp.StatusCode, body)
	}
}

func TestIntegration_ClearRequiresForce(t *testing.T) {
	env, _ := newPostgresEnv(t)
	env.activate(t)
	env.createPoint(t, 43.26, -2.93)

	resp, _ := env.do(t, "DELETE", "/v1/surveys/s1", nil)
	if resp.StatusCode != 409 {
		t.Fatalf("expected 409 with queued edits, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "DELETE", "/v1/surveys/s1?force=true", nil)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}
