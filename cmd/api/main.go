package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/groundsync/internal/adapters/http"
	"github.com/samirrijal/groundsync/internal/bootstrap"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/auth"
	"github.com/samirrijal/groundsync/internal/pkg/config"
	"github.com/samirrijal/groundsync/internal/pkg/ids"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"github.com/samirrijal/groundsync/internal/pkg/telemetry"
	"github.com/samirrijal/groundsync/internal/workflows"
)

func main() {
	cfg, err := config.Load("groundsync-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Local cache
	local, err := bootstrap.OpenLocal(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer local.Close()
	go local.DB.ReportPoolStats(ctx, 15*time.Second)

	// Remote documents
	rem, err := bootstrap.OpenRemote(cfg)
	if err != nil {
		log.Fatalf("remote store: %v", err)
	}
	defer rem.Close()

	engine := usecases.NewSyncEngine(local.Store, rem.Store, bootstrap.EngineConfig(cfg.Sync))

	// Scheduler: Temporal workflows when enabled, otherwise an in-process loop.
	var scheduler ports.SyncScheduler
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			log.Fatalf("temporal client: %v", err)
		}
		defer tc.Close()
		// The worker owns recovery and draining.
		scheduler = workflows.NewTemporalScheduler(tc, cfg.Temporal.TaskQueue, cfg.Sync.Interval, bootstrap.ActivityTimeouts(cfg.Sync))
	} else {
		loop := usecases.NewSyncLoop(engine, cfg.Sync.Interval)
		go func() {
			if err := loop.Run(ctx); err != nil {
				slog.Error("sync loop stopped", "error", err)
			}
		}()
		scheduler = loop
	}

	streams := usecases.NewSyncSupervisor(ctx, usecases.NewChangeStream(local.Store, rem.Store))
	defer streams.StopAll()

	edit := usecases.EditDeps{
		Store:       local.Store,
		Scheduler:   scheduler,
		Users:       auth.ContextResolver{},
		EntityIDs:   ids.UUID{},
		MutationIDs: ids.NewULID(),
	}
	surveys := usecases.NewSurveyService(edit, rem.Store, streams)

	active, err := surveys.List(ctx)
	if err != nil {
		log.Fatalf("list active surveys: %v", err)
	}
	streams.StartAll(active)
	slog.Info("streaming active surveys", "count", len(active))

	deps := &http.Dependencies{
		Surveys:     surveys,
		LOIs:        usecases.NewLocationOfInterestService(edit),
		Submissions: usecases.NewSubmissionService(edit),
		Engine:      engine,
		DB:          local.Store,
		Remote:      rem.Documents,
		Feed:        rem.Feed,
	}
	if cfg.Auth.Disabled {
		deps.DevUser = domain.User{ID: "dev", DisplayName: "Developer"}
		slog.Warn("authentication disabled, requests run as the development user")
	} else {
		deps.Auth = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}

	// Fiber
	app := http.NewApp(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    4 * 1024 * 1024, // 4 MB max request body
		AppName:      "GroundSync API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps, http.RouterOptions{RequestsPerMinute: 120})

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "temporal", cfg.Temporal.Enabled)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	cancel()

	slog.Info("server stopped")
}
