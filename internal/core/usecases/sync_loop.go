package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/samirrijal/groundsync/internal/pkg/logging"
)

// SyncLoop is an in-process sync scheduler: it drains the queue on a fixed
// interval and whenever a sync is requested.
type SyncLoop struct {
	engine   *SyncEngine
	interval time.Duration
	trigger  chan struct{}
	log      *slog.Logger
}

// NewSyncLoop creates a new SyncLoop.
func NewSyncLoop(engine *SyncEngine, interval time.Duration) *SyncLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SyncLoop{
		engine:   engine,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      logging.Component("sync-loop"),
	}
}

// EnqueueSync implements ports.SyncScheduler. Requests made while a drain is
// already pending coalesce into it.
func (l *SyncLoop) EnqueueSync(ctx context.Context, surveyID, entityID string) error {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Run drains until ctx is cancelled.
func (l *SyncLoop) Run(ctx context.Context) error {
	if _, err := l.engine.Recover(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if _, err := l.engine.Drain(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-l.trigger:
		}
	}
}
