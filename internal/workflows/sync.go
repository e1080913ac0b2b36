package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/groundsync/internal/core/usecases"
)

// SignalSyncRequested is sent to a running SyncSurveyWorkflow when a new
// mutation is queued. Its payload is the edited entity id.
const SignalSyncRequested = "sync-requested"

// SyncInput is the input for the sync workflow.
type SyncInput struct {
	SurveyID string
	// MaxRounds bounds the drain rounds of one execution.
	MaxRounds  int
	RetryDelay time.Duration
	Timeouts   ActivityTimeouts
}

// ActivityTimeouts bound one DrainSurvey activity. The activity heartbeats
// after every remote write attempt, so Heartbeat must outlast one backoff
// wait plus one write, while Drain covers the whole pass.
type ActivityTimeouts struct {
	Drain     time.Duration
	Heartbeat time.Duration
}

const writeAllowance = time.Minute

// TimeoutsFor derives activity timeouts from the engine's backoff limits.
// drain is raised when it would not cover one mutation's full backoff.
func TimeoutsFor(cfg usecases.SyncConfig, drain time.Duration) ActivityTimeouts {
	t := ActivityTimeouts{
		Drain:     drain,
		Heartbeat: cfg.MaxBackoff + writeAllowance,
	}
	if floor := cfg.MutationBudget() + t.Heartbeat; t.Drain < floor {
		t.Drain = floor
	}
	return t
}

func (t ActivityTimeouts) withDefaults() ActivityTimeouts {
	if t.Heartbeat <= 0 {
		t.Heartbeat = 2 * time.Minute
	}
	if t.Drain <= 0 {
		t.Drain = 10 * time.Minute
	}
	if t.Drain < t.Heartbeat {
		t.Drain = t.Heartbeat
	}
	return t
}

// SyncOutcome summarises a workflow execution.
type SyncOutcome struct {
	Rounds  int
	Synced  int
	Failed  []string
	Pending int
}

// SyncSurveyWorkflow drains a survey's mutation queue, waiting RetryDelay
// between rounds while transient failures remain. A sync-requested signal
// starts the next round early.
func SyncSurveyWorkflow(ctx workflow.Context, input SyncInput) (SyncOutcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting sync workflow", "survey", input.SurveyID)

	if input.MaxRounds <= 0 {
		input.MaxRounds = 10
	}
	if input.RetryDelay <= 0 {
		input.RetryDelay = 30 * time.Second
	}

	timeouts := input.Timeouts.withDefaults()
	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: timeouts.Drain,
		HeartbeatTimeout:    timeouts.Heartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)
	requests := workflow.GetSignalChannel(ctx, SignalSyncRequested)

	var out SyncOutcome
	for out.Rounds < input.MaxRounds {
		// Signals received so far are covered by this round.
		for requests.ReceiveAsync(nil) {
		}

		var res DrainResult
		out.Rounds++
		if err := workflow.ExecuteActivity(ctx, "DrainSurvey", input.SurveyID).Get(ctx, &res); err != nil {
			logger.Error("drain failed", "survey", input.SurveyID, "error", err)
			return out, err
		}
		out.Synced += res.Synced
		out.Failed = append(out.Failed, res.Failed...)
		out.Pending = res.Retrying

		if res.Retrying == 0 {
			if !requests.ReceiveAsync(nil) {
				logger.Info("Survey in sync", "survey", input.SurveyID, "rounds", out.Rounds)
				return out, nil
			}
			continue
		}

		timer := workflow.NewTimer(ctx, input.RetryDelay)
		workflow.NewSelector(ctx).
			AddFuture(timer, func(workflow.Future) {}).
			AddReceive(requests, func(c workflow.ReceiveChannel, _ bool) { c.Receive(ctx, nil) }).
			Select(ctx)
	}

	logger.Warn("mutations still pending, giving up for now",
		"survey", input.SurveyID, "pending", out.Pending, "rounds", out.Rounds)
	return out, nil
}
