package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/pkg/logging"
	"github.com/samirrijal/groundsync/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrStreamEnded is returned when a remote subscription closes on its own.
var ErrStreamEnded = errors.New("remote subscription ended")

// ChangeStream merges remote change notifications into the local cache.
type ChangeStream struct {
	local  ports.LocalStore
	remote ports.RemoteDataStore
	log    *slog.Logger

	// RestartInitial and RestartMax bound the delay between re-subscriptions.
	RestartInitial time.Duration
	RestartMax     time.Duration
	// DeferredRetry is how often events held back by queued local
	// mutations are merged again.
	DeferredRetry time.Duration
	// OnRemoteError, if set, observes Error events and failed subscriptions.
	OnRemoteError func(surveyID string, err error)
}

// NewChangeStream creates a new ChangeStream.
func NewChangeStream(local ports.LocalStore, remote ports.RemoteDataStore) *ChangeStream {
	return &ChangeStream{
		local:          local,
		remote:         remote,
		log:            logging.Component("stream"),
		RestartInitial: time.Second,
		RestartMax:     time.Minute,
		DeferredRetry:  2 * time.Second,
	}
}

// MergeLocationOfInterest applies one remote event to the local cache.
// Replaying an event yields the same local state as applying it once.
func (s *ChangeStream) MergeLocationOfInterest(ctx context.Context, surveyID string, ev domain.LOIEvent) (domain.MergeResult, error) {
	var (
		res domain.MergeResult
		err error
	)
	switch ev.Kind {
	case domain.EventLoaded, domain.EventModified:
		if ev.Entity == nil {
			return domain.MergeNoop, fmt.Errorf("%s event for %s has no entity", ev.Kind, ev.EntityID)
		}
		loi := *ev.Entity
		if loi.SurveyID == "" {
			loi.SurveyID = surveyID
		}
		if ev.Version > loi.Version {
			loi.Version = ev.Version
		}
		res, err = s.local.MergeLocationOfInterest(ctx, &loi)
	case domain.EventRemoved:
		res, err = s.local.RemoveLocationOfInterest(ctx, surveyID, ev.EntityID, ev.Version)
	case domain.EventError:
		s.remoteError(surveyID, ev.Err)
		res = domain.MergeNoop
	}
	if err != nil {
		metrics.RemoteEventsMerged.WithLabelValues(ev.Kind.String(), "error").Inc()
		return domain.MergeNoop, err
	}
	metrics.RemoteEventsMerged.WithLabelValues(ev.Kind.String(), res.String()).Inc()
	return res, nil
}

// MergeSubmission applies one remote submission event.
func (s *ChangeStream) MergeSubmission(ctx context.Context, surveyID string, ev domain.RemoteEvent[*domain.Submission]) (domain.MergeResult, error) {
	switch ev.Kind {
	case domain.EventLoaded, domain.EventModified:
		if ev.Entity == nil {
			return domain.MergeNoop, fmt.Errorf("%s event for %s has no entity", ev.Kind, ev.EntityID)
		}
		sub := *ev.Entity
		if sub.SurveyID == "" {
			sub.SurveyID = surveyID
		}
		if ev.Version > sub.Version {
			sub.Version = ev.Version
		}
		return s.local.MergeSubmission(ctx, &sub)
	case domain.EventError:
		s.remoteError(surveyID, ev.Err)
	}
	// Submission removals are never issued remotely.
	return domain.MergeNoop, nil
}

func (s *ChangeStream) remoteError(surveyID string, err error) {
	s.log.Warn("remote change stream error", "survey", surveyID, "error", err)
	if s.OnRemoteError != nil {
		s.OnRemoteError(surveyID, err)
	}
}

// SyncLocationsOfInterest subscribes once and merges events until the
// subscription ends or ctx is cancelled. Error events and merge failures are
// logged and the subscription continues.
func (s *ChangeStream) SyncLocationsOfInterest(ctx context.Context, surveyID string) error {
	events, err := s.remote.SubscribeLocationsOfInterest(ctx, surveyID)
	if err != nil {
		return fmt.Errorf("subscribe to locations of survey %s: %w", surveyID, err)
	}
	return mergeEvents(ctx, s, surveyID, "loi", events, s.MergeLocationOfInterest)
}

// SyncSubmissions is the submission counterpart of SyncLocationsOfInterest.
func (s *ChangeStream) SyncSubmissions(ctx context.Context, surveyID string) error {
	events, err := s.remote.SubscribeSubmissions(ctx, surveyID)
	if err != nil {
		return fmt.Errorf("subscribe to submissions of survey %s: %w", surveyID, err)
	}
	return mergeEvents(ctx, s, surveyID, "submission", events, s.MergeSubmission)
}

// mergeEvents drains one subscription. An event deferred behind queued local
// mutations, such as the echo of a write still being acknowledged, is held
// and merged again every DeferredRetry until the queue for its entity is
// empty. Only the newest held event per entity is kept.
func mergeEvents[T any](
	ctx context.Context,
	s *ChangeStream,
	surveyID, entity string,
	events <-chan domain.RemoteEvent[T],
	merge func(context.Context, string, domain.RemoteEvent[T]) (domain.MergeResult, error),
) error {
	every := s.DeferredRetry
	if every <= 0 {
		every = 2 * time.Second
	}
	retry := time.NewTicker(every)
	defer retry.Stop()
	held := make(map[string]domain.RemoteEvent[T])

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrStreamEnded
			}
			res, err := merge(ctx, surveyID, ev)
			if err != nil {
				s.log.Error("merge remote event", "survey", surveyID, entity, ev.EntityID, "error", err)
				continue
			}
			if ev.Kind != domain.EventError {
				if h, ok := held[ev.EntityID]; !ok || ev.Version >= h.Version {
					if res == domain.MergeDeferred {
						held[ev.EntityID] = ev
					} else {
						delete(held, ev.EntityID)
					}
				}
			}
			s.log.Debug("remote event merged", "survey", surveyID, entity, ev.EntityID, "kind", ev.Kind.String(), "result", res.String())

		case <-retry.C:
			for id, ev := range held {
				res, err := merge(ctx, surveyID, ev)
				if err != nil {
					s.log.Error("merge deferred remote event", "survey", surveyID, entity, id, "error", err)
					continue
				}
				if res != domain.MergeDeferred {
					delete(held, id)
					s.log.Debug("deferred remote event merged", "survey", surveyID, entity, id, "result", res.String())
				}
			}
		}
	}
}

// Run keeps the survey's subscriptions alive, re-subscribing with
// exponential backoff whenever one ends, until ctx is cancelled.
func (s *ChangeStream) Run(ctx context.Context, surveyID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.keepAlive(gctx, surveyID, "lois", s.SyncLocationsOfInterest) })
	g.Go(func() error { return s.keepAlive(gctx, surveyID, "submissions", s.SyncSubmissions) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *ChangeStream) keepAlive(ctx context.Context, surveyID, name string, run func(context.Context, string) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.RestartInitial
	b.MaxInterval = s.RestartMax
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(b, ctx)

	for {
		started := time.Now()
		err := run(ctx, surveyID)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrStreamEnded) {
			s.remoteError(surveyID, err)
		}
		if time.Since(started) > s.RestartMax {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		s.log.Info("restarting remote subscription", "survey", surveyID, "stream", name, "wait", wait, "error", err)
		metrics.StreamRestarts.Inc()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
