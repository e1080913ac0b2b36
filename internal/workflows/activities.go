package workflows

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/usecases"
)

// Drainer syncs the queued mutations of one survey.
type Drainer interface {
	DrainSurvey(ctx context.Context, surveyID string) (domain.SyncReport, error)
}

// DrainResult is the serialisable summary of one DrainSurvey activity.
type DrainResult struct {
	Attempted int
	Synced    int
	Retrying  int
	Failed    []string
	Blocked   int
}

// SyncActivities holds the activity implementations for the sync workflow.
type SyncActivities struct {
	Engine Drainer
}

// DrainSurvey pushes every queued mutation of a survey to the remote store.
func (a *SyncActivities) DrainSurvey(ctx context.Context, surveyID string) (DrainResult, error) {
	var (
		mu       sync.Mutex
		attempts int
	)
	ctx = usecases.WithDrainProgress(ctx, func(string) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		activity.RecordHeartbeat(ctx, attempts)
	})
	report, err := a.Engine.DrainSurvey(ctx, surveyID)
	if err != nil {
		return DrainResult{}, fmt.Errorf("drain survey %s: %w", surveyID, err)
	}
	res := DrainResult{
		Attempted: report.Attempted,
		Synced:    report.Synced,
		Retrying:  report.Retrying,
		Blocked:   report.Blocked,
	}
	for _, m := range report.Failed {
		res.Failed = append(res.Failed, m.ID)
	}
	activity.GetLogger(ctx).Info("survey drained",
		"survey", surveyID, "synced", res.Synced, "retrying", res.Retrying, "failed", len(res.Failed))
	return res, nil
}
