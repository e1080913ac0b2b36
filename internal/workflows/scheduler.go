package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

// WorkflowStarter is the part of client.Client the scheduler uses.
type WorkflowStarter interface {
	SignalWithStartWorkflow(ctx context.Context, workflowID string, signalName string, signalArg interface{},
		options client.StartWorkflowOptions, workflow interface{}, workflowArgs ...interface{}) (client.WorkflowRun, error)
}

// TemporalScheduler implements ports.SyncScheduler with one workflow per survey.
// A request for a survey that is already syncing signals the running workflow.
type TemporalScheduler struct {
	client     WorkflowStarter
	taskQueue  string
	retryDelay time.Duration
	timeouts   ActivityTimeouts
}

func NewTemporalScheduler(c WorkflowStarter, taskQueue string, retryDelay time.Duration, timeouts ActivityTimeouts) *TemporalScheduler {
	return &TemporalScheduler{client: c, taskQueue: taskQueue, retryDelay: retryDelay, timeouts: timeouts}
}

// WorkflowID returns the id of the sync workflow for a survey.
func WorkflowID(surveyID string) string {
	return "sync-survey-" + surveyID
}

func (s *TemporalScheduler) EnqueueSync(ctx context.Context, surveyID, entityID string) error {
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(surveyID),
		TaskQueue: s.taskQueue,
	}
	input := SyncInput{SurveyID: surveyID, RetryDelay: s.retryDelay, Timeouts: s.timeouts}
	if _, err := s.client.SignalWithStartWorkflow(ctx, opts.ID, SignalSyncRequested, entityID, opts, SyncSurveyWorkflow, input); err != nil {
		return fmt.Errorf("schedule sync for survey %s: %w", surveyID, err)
	}
	return nil
}
