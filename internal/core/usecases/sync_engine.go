package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"github.com/samirrijal/groundsync/internal/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// RetryBudget is the number of failed attempts after which a mutation
	// with transient errors is marked Failed.
	RetryBudget int
	// AttemptsPerDrain bounds the in-cycle retries of one mutation.
	AttemptsPerDrain int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// Concurrency is the number of entities drained in parallel per survey.
	Concurrency int
	// WritesPerSecond limits remote writes. Zero disables the limit.
	WritesPerSecond float64
	Burst           int
}

// DefaultSyncConfig returns production defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		RetryBudget:      10,
		AttemptsPerDrain: 3,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		Concurrency:      8,
		WritesPerSecond:  50,
		Burst:            10,
	}
}

// MutationBudget is the longest one mutation can spend backing off within
// a single drain.
func (c SyncConfig) MutationBudget() time.Duration {
	return time.Duration(c.AttemptsPerDrain) * c.MaxBackoff
}

type progressKey struct{}

// WithDrainProgress returns a context whose drains call fn with the
// mutation id after every remote write attempt. fn may be called from
// several goroutines at once.
func WithDrainProgress(ctx context.Context, fn func(mutationID string)) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func reportProgress(ctx context.Context, mutationID string) {
	if fn, ok := ctx.Value(progressKey{}).(func(string)); ok && fn != nil {
		fn(mutationID)
	}
}

// SyncEngine drains the mutation queue against the remote store.
type SyncEngine struct {
	queue   ports.MutationQueue
	remote  ports.RemoteDataStore
	cfg     SyncConfig
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     *slog.Logger
}

// NewSyncEngine creates a new SyncEngine. Zero config fields fall back to defaults.
func NewSyncEngine(queue ports.MutationQueue, remote ports.RemoteDataStore, cfg SyncConfig) *SyncEngine {
	def := DefaultSyncConfig()
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	if cfg.AttemptsPerDrain <= 0 {
		cfg.AttemptsPerDrain = def.AttemptsPerDrain
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	limit := rate.Inf
	if cfg.WritesPerSecond > 0 {
		limit = rate.Limit(cfg.WritesPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &SyncEngine{
		queue:   queue,
		remote:  remote,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		tracer:  otel.Tracer("groundsync/sync"),
		log:     logging.Component("sync"),
	}
}

// Recover returns mutations stranded InProgress by an interrupted process to
// Pending. Call it once before the first drain.
func (e *SyncEngine) Recover(ctx context.Context) (int, error) {
	n, err := e.queue.ResetInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset in-progress mutations: %w", err)
	}
	if n > 0 {
		e.log.Info("recovered interrupted mutations", "count", n)
	}
	return n, nil
}

// Drain syncs every survey that has pending mutations, oldest first.
// Per-mutation failures are recorded in the queue and the report; the
// returned error is reserved for failures to read the queue and cancellation.
func (e *SyncEngine) Drain(ctx context.Context) (domain.SyncReport, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "SyncEngine.Drain")
	defer span.End()

	var report domain.SyncReport
	surveys, err := e.queue.SurveysWithPendingMutations(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("list surveys with pending mutations: %w", err)
	}
	for _, id := range surveys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r, err := e.DrainSurvey(ctx, id)
		report.Merge(r)
		if err != nil {
			return report, err
		}
	}
	report.Duration = domain.Duration(time.Since(start))
	metrics.DrainDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("surveys", report.Surveys),
		attribute.Int("synced", report.Synced),
		attribute.Int("failed", len(report.Failed)),
	)
	if report.Attempted > 0 {
		e.log.Info("drain complete",
			"surveys", report.Surveys,
			"synced", report.Synced,
			"retrying", report.Retrying,
			"failed", len(report.Failed),
			"blocked", report.Blocked,
			"duration", time.Since(start),
		)
	}
	return report, nil
}

// DrainSurvey syncs the queued mutations of one survey. Entities are drained
// concurrently; the mutations of a single entity are applied strictly in
// enqueue order and a failure stops that entity for this cycle.
func (e *SyncEngine) DrainSurvey(ctx context.Context, surveyID string) (domain.SyncReport, error) {
	ctx, span := e.tracer.Start(ctx, "SyncEngine.DrainSurvey", trace.WithAttributes(attribute.String("survey.id", surveyID)))
	defer span.End()

	report := domain.SyncReport{Surveys: 1}
	queued, err := e.queue.PendingMutations(ctx, domain.MutationFilter{SurveyID: surveyID})
	if err != nil {
		return report, fmt.Errorf("load mutations for survey %s: %w", surveyID, err)
	}

	var order []string
	byEntity := make(map[string][]domain.Mutation)
	for _, m := range queued {
		if _, seen := byEntity[m.EntityID]; !seen {
			order = append(order, m.EntityID)
		}
		byEntity[m.EntityID] = append(byEntity[m.EntityID], m)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, entityID := range order {
		muts := byEntity[entityID]
		g.Go(func() error {
			r := e.drainEntity(ctx, muts)
			mu.Lock()
			report.Merge(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report, ctx.Err()
}

func (e *SyncEngine) drainEntity(ctx context.Context, muts []domain.Mutation) domain.SyncReport {
	var report domain.SyncReport
	for i := range muts {
		m := muts[i]
		switch m.Status {
		case domain.MutationComplete:
			// Acknowledged remotely but not yet removed.
			if err := e.queue.RemoveMutation(context.WithoutCancel(ctx), m.ID); err != nil {
				e.log.Error("remove completed mutation", "mutation", m.ID, "error", err)
				return report
			}
			continue
		case domain.MutationFailed:
			report.Blocked += len(muts) - i - 1
			return report
		case domain.MutationInProgress:
			return report
		}
		if ctx.Err() != nil {
			return report
		}

		claimed, err := e.queue.ClaimMutation(ctx, m.ID)
		if err != nil {
			e.log.Error("claim mutation", "mutation", m.ID, "error", err)
			return report
		}
		if !claimed {
			return report
		}
		report.Attempted++

		if !e.process(ctx, &m, &report) {
			report.Blocked += len(muts) - i - 1
			return report
		}
	}
	return report
}

// process applies one claimed mutation and records the outcome. It reports
// whether the entity may continue with its next mutation.
func (e *SyncEngine) process(ctx context.Context, m *domain.Mutation, report *domain.SyncReport) bool {
	ctx, span := e.tracer.Start(ctx, "SyncEngine.apply", trace.WithAttributes(
		attribute.String("mutation.id", m.ID),
		attribute.String("entity.id", m.EntityID),
		attribute.String("operation", string(m.Operation)),
	))
	defer span.End()

	// Bookkeeping must land even if the drain was cancelled mid-write.
	bg := context.WithoutCancel(ctx)
	entity := string(m.EntityType)
	failures, err := e.apply(ctx, m)

	switch {
	case err == nil:
		if err := e.queue.MarkMutation(bg, m.ID, domain.MutationUpdate{Status: domain.MutationComplete, RetryCount: m.RetryCount}); err != nil {
			e.log.Error("mark mutation complete", "mutation", m.ID, "error", err)
		}
		if err := e.queue.RemoveMutation(bg, m.ID); err != nil {
			e.log.Error("remove synced mutation", "mutation", m.ID, "error", err)
		}
		report.Synced++
		metrics.MutationsSynced.WithLabelValues(entity, "synced").Inc()
		e.log.Debug("mutation synced", "mutation", m.ID, "entity", m.EntityID, "op", m.Operation)
		return true

	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Not attributable to the mutation: leave it exactly as it was.
		if err := e.queue.MarkMutation(bg, m.ID, domain.MutationUpdate{Status: domain.MutationPending, RetryCount: m.RetryCount, LastError: m.LastError}); err != nil {
			e.log.Error("release cancelled mutation", "mutation", m.ID, "error", err)
		}
		return false
	}

	span.RecordError(err)
	retries := m.RetryCount + failures
	update := domain.MutationUpdate{RetryCount: retries, LastError: err.Error()}
	if domain.IsTransient(err) && retries < e.cfg.RetryBudget {
		update.Status = domain.MutationPending
		report.Retrying++
		metrics.MutationsSynced.WithLabelValues(entity, "retrying").Inc()
		e.log.Warn("mutation sync deferred", "mutation", m.ID, "retries", retries, "error", err)
	} else {
		update.Status = domain.MutationFailed
		span.SetStatus(codes.Error, err.Error())
		metrics.MutationsSynced.WithLabelValues(entity, "failed").Inc()
		e.log.Error("mutation sync failed", "mutation", m.ID, "entity", m.EntityID, "retries", retries, "error", err)
	}
	if err := e.queue.MarkMutation(bg, m.ID, update); err != nil {
		e.log.Error("record mutation failure", "mutation", m.ID, "error", err)
		return false
	}
	if update.Status == domain.MutationFailed {
		m.Status, m.RetryCount, m.LastError = update.Status, update.RetryCount, update.LastError
		report.Failed = append(report.Failed, *m)
	}
	return false
}

// apply performs the remote write with bounded exponential backoff on
// transient errors. It returns the number of failed attempts.
func (e *SyncEngine) apply(ctx context.Context, m *domain.Mutation) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.AttemptsPerDrain-1)), ctx)

	failures := 0
	op := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := e.remote.ApplyMutation(ctx, m)
		reportProgress(ctx, m.ID)
		if err == nil {
			return nil
		}
		failures++
		if ctx.Err() != nil || !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.MutationRetries.WithLabelValues(string(m.EntityType)).Inc()
		e.log.Debug("retrying mutation", "mutation", m.ID, "wait", wait, "error", err)
	}
	err := backoff.RetryNotify(op, policy, notify)
	if err != nil && failures == 0 && ctx.Err() == nil {
		failures = 1
	}
	return failures, err
}

// Retry resubmits a Failed mutation with a fresh retry budget.
func (e *SyncEngine) Retry(ctx context.Context, mutationID string) (*domain.Mutation, error) {
	m, err := e.queue.GetMutation(ctx, mutationID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MutationFailed {
		return nil, fmt.Errorf("retry %s (%s): %w", mutationID, m.Status, domain.ErrMutationNotFailed)
	}
	if err := e.queue.MarkMutation(ctx, mutationID, domain.MutationUpdate{Status: domain.MutationPending}); err != nil {
		return nil, fmt.Errorf("resubmit mutation %s: %w", mutationID, err)
	}
	m.Status, m.RetryCount, m.LastError = domain.MutationPending, 0, ""
	e.log.Info("mutation resubmitted", "mutation", mutationID, "survey", m.SurveyID)
	return m, nil
}

// FailedMutations lists the Failed mutations of a survey, or of all surveys
// when surveyID is empty.
func (e *SyncEngine) FailedMutations(ctx context.Context, surveyID string) ([]domain.Mutation, error) {
	return e.queue.PendingMutations(ctx, domain.MutationFilter{
		SurveyID: surveyID,
		Statuses: []domain.MutationStatus{domain.MutationFailed},
	})
}

// QueuedMutations lists queued mutations matching filter.
func (e *SyncEngine) QueuedMutations(ctx context.Context, filter domain.MutationFilter) ([]domain.Mutation, error) {
	return e.queue.PendingMutations(ctx, filter)
}
