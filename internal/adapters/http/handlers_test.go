package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/groundsync/internal/adapters/http"
	"github.com/samirrijal/groundsync/internal/adapters/memory"
	"github.com/samirrijal/groundsync/internal/adapters/remote"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/auth"
	"github.com/samirrijal/groundsync/internal/pkg/ids"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var fieldUser = domain.User{ID: "u1", Email: "ana@example.org", DisplayName: "Ana"}

type testEnv struct {
	app     *fiber.App
	local   *memory.LocalStore
	docs    *memory.DocumentStore
	remote  *remote.Store
	surveys *usecases.SurveyService
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return buildTestEnv(t, false)
}

// newStreamingTestEnv also runs a change stream per activated survey.
func newStreamingTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return buildTestEnv(t, true)
}

func buildTestEnv(t *testing.T, streaming bool) *testEnv {
	t.Helper()
	local := memory.NewLocalStore()
	docs := memory.NewDocumentStore()
	rs := remote.NewStore(docs)

	_, err := rs.PutSurvey(context.Background(), &domain.Survey{
		ID:    "s1",
		Title: "Street trees",
		Jobs:  map[string]domain.Job{"job": {ID: "job", Name: "Trees"}},
	})
	if err != nil {
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

	var streams *usecases.SyncSupervisor
	if streaming {
		ctx, cancel := context.WithCancel(context.Background())
		streams = usecases.NewSyncSupervisor(ctx, usecases.NewChangeStream(local, rs))
		t.Cleanup(func() {
			streams.StopAll()
			cancel()
		})
	}
	surveys := usecases.NewSurveyService(edit, rs, streams)

	deps := &handler.Dependencies{
		Surveys:     surveys,
		LOIs:        usecases.NewLocationOfInterestService(edit),
		Submissions: usecases.NewSubmissionService(edit),
		Engine:      engine,
		Auth:        verifier,
		DB:          local,
	}

	app := handler.NewApp(fiber.Config{})
	handler.SetupRoutes(app, deps, handler.RouterOptions{OpenAPIPath: "../../../api/openapi.yaml"})
	return &testEnv{app: app, local: local, docs: docs, remote: rs, surveys: surveys, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*nethttp.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (e *testEnv) activate(t *testing.T) {
	t.Helper()
	resp, body := e.do(t, "POST", "/v1/surveys/s1/activate", nil)
	if resp.StatusCode != 201 {
		t.Fatalf("activate: expected 201, got %d: %s", resp.StatusCode, body)
	}
}

func (e *testEnv) createPoint(t *testing.T, lat, lon float64) string {
	t.Helper()
	resp, body := e.do(t, "POST", "/v1/surveys/s1/lois", map[string]any{
		"job_id":     "job",
		"geometry":   map[string]any{"type": "Point", "coordinates": []float64{lon, lat}},
		"properties": map[string]any{"species": "oak"},
	})
	if resp.StatusCode != 202 {
		t.Fatalf("create: expected 202, got %d: %s", resp.StatusCode, body)
	}
	var m struct {
		EntityID string `json:"entity_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode mutation: %v", err)
	}
	if m.Status != "pending" {
		t.Errorf("expected pending mutation, got %q", m.Status)
	}
	return m.EntityID
}

// ---- Health ----

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := env.app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if v := resp.Header.Get("X-API-Version"); v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

func TestReady_RemoteOptional(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/v1/ready", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"remote":"not configured"`) {
		t.Errorf("expected remote reported as not configured, got %s", body)
	}
}

func TestReady_ReportsQueue(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.createPoint(t, 43.26, -2.93)

	resp, body := env.do(t, "GET", "/v1/ready", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var ready struct {
		Queue map[string]int `json:"queue"`
	}
	if err := json.Unmarshal(body, &ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ready.Queue["pending"] != 1 || ready.Queue["failed"] != 0 {
		t.Errorf("expected 1 pending and 0 failed, got %v", ready.Queue)
	}
}

// ---- Auth ----

func TestAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/v1/surveys", nil)
	resp, _ := env.app.Test(req, -1)
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAuth_ForeignToken(t *testing.T) {
	env := newTestEnv(t)
	env.token, _ = auth.NewVerifier(strings.Repeat("z", 32), "groundsync").Issue(fieldUser, time.Hour)

	resp, _ := env.do(t, "GET", "/v1/surveys", nil)
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

// ---- Surveys ----

func TestSurveys_ActivateAndList(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	resp, body := env.do(t, "GET", "/v1/surveys", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var page struct {
		Data       []domain.Survey    `json:"data"`
		Pagination handler.Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Pagination.Total != 1 || page.Data[0].Title != "Street trees" {
		t.Errorf("unexpected surveys: %s", body)
	}
}

func TestSurveys_StreamSurvivesLaterRequests(t *testing.T) {
	env := newStreamingTestEnv(t)
	env.activate(t)
	id := env.createPoint(t, 42, -71)

	for _, path := range []string{
		"/v1/surveys/zz",
		"/v1/mutations?status=failed",
		"/v1/surveys/s1/lois?lat=10&lon=20&radius=300",
	} {
		env.do(t, "GET", path, nil)
	}

	if st := env.surveys.StreamStatus("s1"); !st.Running || st.SurveyID != "s1" {
		t.Fatalf("expected stream for s1 running, got %+v", st)
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.docs.Watchers(remote.LOICollection("s1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected the stream to watch the survey's locations")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, body := env.do(t, "GET", "/v1/surveys/s1", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var view struct {
		ID     string `json:"id"`
		Stream struct {
			SurveyID string `json:"survey_id"`
			Running  bool   `json:"running"`
		} `json:"stream"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "s1" || !view.Stream.Running || view.Stream.SurveyID != "s1" {
		t.Errorf("unexpected survey view: %s", body)
	}

	resp, body = env.do(t, "GET", "/v1/surveys/s1/lois/"+id, nil)
	if resp.StatusCode != 200 {
		t.Errorf("expected location %s to stay reachable, got %d: %s", id, resp.StatusCode, body)
	}
}

func TestSurveys_ActivateUnknown(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "POST", "/v1/surveys/nope/activate", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSurveys_UpdateQueuesMutation(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	resp, body := env.do(t, "PATCH", "/v1/surveys/s1", map[string]any{"title": "Park trees"})
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"entity_type":"survey"`) {
		t.Errorf("expected survey mutation, got %s", body)
	}

	resp, _ = env.do(t, "PATCH", "/v1/surveys/s1", map[string]any{"title": "  "})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for blank title, got %d", resp.StatusCode)
	}
}

func TestSurveys_ClearRefusesQueuedEdits(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.createPoint(t, 42, -71)

	resp, _ := env.do(t, "DELETE", "/v1/surveys/s1", nil)
	if resp.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "DELETE", "/v1/surveys/s1?force=true", nil)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "GET", "/v1/surveys/s1", nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected cleared survey to be gone, got %d", resp.StatusCode)
	}
}

// ---- Locations of interest ----

func TestLOIs_CreateListAndSync(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	id := env.createPoint(t, 42, -71)

	resp, body := env.do(t, "GET", "/v1/surveys/s1/lois/"+id, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var loi struct {
		JobID    string `json:"job_id"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Created struct {
			User domain.User `json:"user"`
		} `json:"created"`
	}
	if err := json.Unmarshal(body, &loi); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loi.Geometry.Type != "Point" || loi.Geometry.Coordinates[0] != -71 || loi.Geometry.Coordinates[1] != 42 {
		t.Errorf("unexpected geometry: %+v", loi.Geometry)
	}
	if loi.Created.User.ID != fieldUser.ID {
		t.Errorf("expected author from token, got %+v", loi.Created.User)
	}

	resp, body = env.do(t, "GET", "/v1/mutations?survey_id=s1&status=pending", nil)
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"total":1`) {
		t.Fatalf("expected one pending mutation, got %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "POST", "/v1/surveys/s1/sync", nil)
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
		t.Errorf("expected 1 synced, got %+v", report)
	}
	if _, err := env.docs.Get(context.Background(), remote.LOICollection("s1"), id); err != nil {
		t.Errorf("expected location written remotely: %v", err)
	}

	resp, body = env.do(t, "GET", "/v1/mutations?survey_id=s1", nil)
	if !strings.Contains(string(body), `"total":0`) {
		t.Errorf("expected drained queue, got %s", body)
	}
}

func TestLOIs_ListNear(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.createPoint(t, 42, -71)
	env.createPoint(t, 42.001, -71)
	env.createPoint(t, 10, 10)

	resp, body := env.do(t, "GET", "/v1/surveys/s1/lois?lat=42&lon=-71&radius=1000", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"total":2`) {
		t.Errorf("expected 2 nearby locations, got %s", body)
	}

	resp, _ = env.do(t, "GET", "/v1/surveys/s1/lois?lat=123&lon=0", nil)
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for out of range lat, got %d", resp.StatusCode)
	}
}

func TestLOIs_CreateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing job", map[string]any{"geometry": map[string]any{"type": "Point", "coordinates": []float64{0, 0}}}, 400},
		{"missing geometry", map[string]any{"job_id": "job"}, 400},
		{"unclosed ring", map[string]any{"job_id": "job", "geometry": map[string]any{
			"type": "Polygon", "coordinates": [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}},
		}}, 422},
		{"unknown job", map[string]any{"job_id": "nope", "geometry": map[string]any{"type": "Point", "coordinates": []float64{0, 0}}}, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, "POST", "/v1/surveys/s1/lois", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, resp.StatusCode, body)
			}
		})
	}
}

func TestLOIs_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	id := env.createPoint(t, 42, -71)

	resp, body := env.do(t, "PUT", "/v1/surveys/s1/lois/"+id, map[string]any{"properties": map[string]any{"species": "elm"}})
	if resp.StatusCode != 202 {
		t.Fatalf("update: expected 202, got %d: %s", resp.StatusCode, body)
	}
	loi, err := env.local.GetLocationOfInterest(context.Background(), "s1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loi.Properties["species"] != "elm" || loi.Geometry.Type() != domain.GeometryPoint {
		t.Errorf("unexpected location after update: %+v", loi)
	}

	resp, _ = env.do(t, "DELETE", "/v1/surveys/s1/lois/"+id, nil)
	if resp.StatusCode != 202 {
		t.Fatalf("delete: expected 202, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "GET", "/v1/surveys/s1/lois/"+id, nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestLOIs_UnknownSurvey(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/v1/surveys/other/lois", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var apiErr handler.APIError
	_ = json.Unmarshal(body, &apiErr)
	if apiErr.Code != "not_found" || apiErr.Message != "Survey not found: other" {
		t.Errorf("unexpected error body: %+v", apiErr)
	}
}

// ---- Submissions ----

func TestSubmissions_CreateAndList(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	loiID := env.createPoint(t, 42, -71)

	resp, body := env.do(t, "POST", "/v1/surveys/s1/submissions", map[string]any{
		"loi_id":    loiID,
		"responses": map[string]any{"height": 12.5},
	})
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "GET", "/v1/surveys/s1/submissions?loi_id="+loiID, nil)
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"total":1`) {
		t.Errorf("expected one submission, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, "POST", "/v1/surveys/s1/submissions", map[string]any{"loi_id": "missing"})
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown location, got %d", resp.StatusCode)
	}
}

// ---- Mutations ----

func TestMutations_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "GET", "/v1/mutations?status=done", nil)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMutations_RetryNotFailed(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.createPoint(t, 42, -71)

	muts, _ := env.local.PendingMutations(context.Background(), domain.MutationFilter{})
	resp, _ := env.do(t, "POST", "/v1/mutations/"+muts[0].ID+"/retry", nil)
	if resp.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "POST", "/v1/mutations/unknown/retry", nil)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// ---- Link header on pagination ----

func TestListLOIs_LinkHeader(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	for i := 0; i < 5; i++ {
		env.createPoint(t, float64(i), 0)
	}

	resp, _ := env.do(t, "GET", "/v1/surveys/s1/lois?offset=0&limit=2", nil)
	link := resp.Header.Get("Link")
	for _, rel := range []string{`rel="first"`, `rel="next"`, `rel="last"`} {
		if !strings.Contains(link, rel) {
			t.Errorf("expected %s in Link header, got %s", rel, link)
		}
	}
	if strings.Contains(link, `rel="prev"`) {
		t.Errorf("unexpected prev link on first page: %s", link)
	}
}

// ---- Caching ----

func TestETag_NotModified(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)

	resp, _ := env.do(t, "GET", "/v1/surveys/s1/lois", nil)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "private, no-cache" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}

	req := httptest.NewRequest("GET", "/v1/surveys/s1/lois", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("If-None-Match", `"other", `+etag)
	resp, _ = env.app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}
}

// ---- Deprecated alias ----

func TestLegacyFeatures(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.createPoint(t, 42, -71)

	resp, body := env.do(t, "GET", "/v1/projects/s1/features", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Deprecation") != "true" {
		t.Error("expected Deprecation header")
	}
	if link := resp.Header.Get("Link"); link != `</v1/surveys/s1/lois>; rel="successor-version"` {
		t.Errorf("unexpected successor link %q", link)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 || fc.Features[0].Properties["job_id"] != "job" {
		t.Errorf("unexpected feature collection: %s", body)
	}
}

// ---- GraphQL ----

func TestGraphQL_SurveysAndLocations(t *testing.T) {
	env := newTestEnv(t)
	env.activate(t)
	env.createPoint(t, 42, -71)

	resp, body := env.do(t, "POST", "/graphql", map[string]any{
		"query": `{ surveys { id title jobs { id } } locationsOfInterest(survey_id: "s1") { job_id geometry_type centroid { lat lon } } }`,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			Surveys []struct {
				ID   string `json:"id"`
				Jobs []struct {
					ID string `json:"id"`
				} `json:"jobs"`
			} `json:"surveys"`
			LOIs []struct {
				GeometryType string          `json:"geometry_type"`
				Centroid     domain.GeoPoint `json:"centroid"`
			} `json:"locationsOfInterest"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Errors) > 0 {
		t.Fatalf("graphql errors: %v", out.Errors)
	}
	if len(out.Data.Surveys) != 1 || len(out.Data.Surveys[0].Jobs) != 1 {
		t.Errorf("unexpected surveys: %s", body)
	}
	if len(out.Data.LOIs) != 1 || out.Data.LOIs[0].GeometryType != "Point" || out.Data.LOIs[0].Centroid.Lat != 42 {
		t.Errorf("unexpected locations: %s", body)
	}
}

// ---- Middleware units ----

func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(handler.AccessLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthMiddleware_DevUser(t *testing.T) {
	deps := &handler.Dependencies{DevUser: domain.User{ID: "dev"}}
	app := fiber.New()
	app.Use(handler.AuthMiddleware(deps))
	app.Get("/me", func(c *fiber.Ctx) error {
		u, err := auth.ContextResolver{}.CurrentUser(c.UserContext())
		if err != nil {
			return err
		}
		return c.SendString(u.ID)
	})

	resp, _ := app.Test(httptest.NewRequest("GET", "/me", nil))
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "dev" {
		t.Errorf("expected dev user, got %q", body)
	}
}
