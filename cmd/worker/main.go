package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/groundsync/internal/bootstrap"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/pkg/config"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"github.com/samirrijal/groundsync/internal/pkg/telemetry"
	"github.com/samirrijal/groundsync/internal/workflows"
)

func main() {
	cfg, err := config.Load("groundsync-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	local, err := bootstrap.OpenLocal(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer local.Close()

	rem, err := bootstrap.OpenRemote(cfg)
	if err != nil {
		log.Fatalf("remote store: %v", err)
	}
	defer rem.Close()

	engine := usecases.NewSyncEngine(local.Store, rem.Store, bootstrap.EngineConfig(cfg.Sync))
	if _, err := engine.Recover(ctx); err != nil {
		log.Fatalf("recover: %v", err)
	}

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.SyncSurveyWorkflow)
	w.RegisterActivity(&workflows.SyncActivities{Engine: engine})

	// Edits queued while no worker was running get a workflow now.
	scheduler := workflows.NewTemporalScheduler(c, cfg.Temporal.TaskQueue, cfg.Sync.Interval, bootstrap.ActivityTimeouts(cfg.Sync))
	surveys, err := local.Store.SurveysWithPendingMutations(ctx)
	if err != nil {
		log.Fatalf("pending surveys: %v", err)
	}
	for _, id := range surveys {
		if err := scheduler.EnqueueSync(ctx, id, ""); err != nil {
			slog.Error("schedule backlog", "survey", id, "error", err)
		}
	}

	slog.Info("sync worker started", "task_queue", cfg.Temporal.TaskQueue, "backlog_surveys", len(surveys))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
