package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/groundsync/internal/pkg/metrics"
)

// RouterOptions tunes SetupRoutes.
type RouterOptions struct {
	// OpenAPIPath is the file served at /docs/openapi.yaml.
	OpenAPIPath string
	// RequestsPerMinute per client IP. Zero disables rate limiting.
	RequestsPerMinute int
}

// NewApp creates a Fiber app for SetupRoutes. Handlers hand route params
// and query values to services that keep them as map keys and stream ids,
// so the app always copies them out of the request buffer.
func NewApp(cfg fiber.Config) *fiber.App {
	cfg.Immutable = true
	return fiber.New(cfg)
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies, opts RouterOptions) {
	if opts.OpenAPIPath == "" {
		opts.OpenAPIPath = "api/openapi.yaml"
	}

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	if opts.RequestsPerMinute > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RequestsPerMinute,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			},
		}))
	}

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware(legacyRoutes))

	// Health & readiness (no auth, no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	SetupDocs(app, opts.OpenAPIPath)

	authn := AuthMiddleware(deps)
	withTimeout := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, 15*time.Second)
	}

	v1 := app.Group("/v1", authn)

	v1.Get("/surveys", withTimeout(ListSurveysHandler(deps)))
	v1.Get("/surveys/:id", withTimeout(GetSurveyHandler(deps)))
	v1.Post("/surveys/:id/activate", withTimeout(ActivateSurveyHandler(deps)))
	v1.Patch("/surveys/:id", withTimeout(UpdateSurveyHandler(deps)))
	v1.Delete("/surveys/:id", withTimeout(ClearSurveyHandler(deps)))
	// Drains can outlive the request timeout on slow links.
	v1.Post("/surveys/:id/sync", SyncSurveyHandler(deps))

	v1.Get("/surveys/:id/lois", withTimeout(ListLOIsHandler(deps)))
	v1.Post("/surveys/:id/lois", withTimeout(CreateLOIHandler(deps)))
	v1.Get("/surveys/:id/lois/:loiId", withTimeout(GetLOIHandler(deps)))
	v1.Put("/surveys/:id/lois/:loiId", withTimeout(UpdateLOIHandler(deps)))
	v1.Delete("/surveys/:id/lois/:loiId", withTimeout(DeleteLOIHandler(deps)))

	v1.Get("/surveys/:id/submissions", withTimeout(ListSubmissionsHandler(deps)))
	v1.Post("/surveys/:id/submissions", withTimeout(CreateSubmissionHandler(deps)))
	v1.Put("/surveys/:id/submissions/:subId", withTimeout(UpdateSubmissionHandler(deps)))
	v1.Delete("/surveys/:id/submissions/:subId", withTimeout(DeleteSubmissionHandler(deps)))

	v1.Get("/mutations", withTimeout(ListMutationsHandler(deps)))
	v1.Post("/mutations/:id/retry", withTimeout(RetryMutationHandler(deps)))
	v1.Post("/sync", SyncAllHandler(deps))

	// Deprecated
	v1.Get("/projects/:id/features", withTimeout(LegacyFeaturesHandler(deps)))

	// GraphQL
	app.Post("/graphql", authn, GraphQLHandler(deps))

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, authn, func(c *fiber.Ctx) error {
		c.Locals("user_ctx", c.UserContext())
		return c.Next()
	})
	app.Get("/ws/surveys/:id/lois", websocket.New(LOIWebSocketHandler(deps)))
}
