package workflows_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/groundsync/internal/adapters/memory"
	"github.com/samirrijal/groundsync/internal/core/domain"
	"github.com/samirrijal/groundsync/internal/core/ports"
	"github.com/samirrijal/groundsync/internal/core/usecases"
	"github.com/samirrijal/groundsync/internal/workflows"
)

type scriptedDrainer struct {
	calls   atomic.Int32
	reports []domain.SyncReport
	err     error
}

func (d *scriptedDrainer) DrainSurvey(_ context.Context, surveyID string) (domain.SyncReport, error) {
	n := int(d.calls.Add(1)) - 1
	if d.err != nil {
		return domain.SyncReport{}, d.err
	}
	if n >= len(d.reports) {
		n = len(d.reports) - 1
	}
	return d.reports[n], nil
}

func runWorkflow(t *testing.T, d workflows.Drainer, input workflows.SyncInput, setup func(*testsuite.TestWorkflowEnvironment)) (workflows.SyncOutcome, time.Duration, error) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(workflows.SyncSurveyWorkflow)
	env.RegisterActivity(&workflows.SyncActivities{Engine: d})
	if setup != nil {
		setup(env)
	}

	start := env.Now()
	env.ExecuteWorkflow(workflows.SyncSurveyWorkflow, input)
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	elapsed := env.Now().Sub(start)

	var out workflows.SyncOutcome
	if err := env.GetWorkflowError(); err != nil {
		return out, elapsed, err
	}
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatalf("result: %v", err)
	}
	return out, elapsed, nil
}

func TestSyncSurveyWorkflow_LoopsUntilInSync(t *testing.T) {
	d := &scriptedDrainer{reports: []domain.SyncReport{
		{Attempted: 3, Synced: 1, Retrying: 2},
		{Attempted: 2, Synced: 2},
	}}

	out, _, err := runWorkflow(t, d, workflows.SyncInput{SurveyID: "s1", RetryDelay: time.Minute}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Rounds != 2 || out.Synced != 3 || out.Pending != 0 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if got := d.calls.Load(); got != 2 {
		t.Errorf("expected 2 drains, got %d", got)
	}
}

func TestSyncSurveyWorkflow_StopsAfterMaxRounds(t *testing.T) {
	d := &scriptedDrainer{reports: []domain.SyncReport{{Attempted: 1, Retrying: 1}}}

	out, _, err := runWorkflow(t, d, workflows.SyncInput{SurveyID: "s1", MaxRounds: 3, RetryDelay: time.Minute}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Rounds != 3 || out.Pending != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSyncSurveyWorkflow_ReportsFailedMutations(t *testing.T) {
	d := &scriptedDrainer{reports: []domain.SyncReport{
		{Attempted: 2, Synced: 1, Failed: []domain.Mutation{{ID: "m2"}}},
	}}

	out, _, err := runWorkflow(t, d, workflows.SyncInput{SurveyID: "s1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Failed) != 1 || out.Failed[0] != "m2" {
		t.Errorf("expected m2 to be reported failed, got %v", out.Failed)
	}
}

func TestSyncSurveyWorkflow_SignalStartsNextRoundEarly(t *testing.T) {
	d := &scriptedDrainer{reports: []domain.SyncReport{
		{Attempted: 1, Retrying: 1},
		{Attempted: 1, Synced: 1},
	}}

	var env *testsuite.TestWorkflowEnvironment
	out, elapsed, err := runWorkflow(t, d, workflows.SyncInput{SurveyID: "s1", RetryDelay: time.Hour}, func(e *testsuite.TestWorkflowEnvironment) {
		env = e
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow(workflows.SignalSyncRequested, "loi-1")
		}, time.Minute)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Rounds != 2 {
		t.Errorf("expected 2 rounds, got %d", out.Rounds)
	}
	if elapsed >= time.Hour {
		t.Errorf("expected the signal to cut the wait short, took %v", elapsed)
	}
}

func TestSyncSurveyWorkflow_ActivityError(t *testing.T) {
	d := &scriptedDrainer{err: errors.New("queue unavailable")}

	_, _, err := runWorkflow(t, d, workflows.SyncInput{SurveyID: "s1"}, nil)
	if err == nil {
		t.Fatal("expected workflow error")
	}
	if got := d.calls.Load(); got != 3 {
		t.Errorf("expected 3 activity attempts, got %d", got)
	}
}

// slowRemote acknowledges every write after a delay.
type slowRemote struct {
	ports.RemoteDataStore
	delay   time.Duration
	applied atomic.Int32
}

func (r *slowRemote) ApplyMutation(ctx context.Context, m *domain.Mutation) error {
	select {
	case <-time.After(r.delay):
		r.applied.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSyncSurveyWorkflow_SlowDrainHeartbeats(t *testing.T) {
	store := memory.NewLocalStore()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		err := store.ApplyAndEnqueue(context.Background(), &domain.Mutation{
			ID:         "m-" + id,
			SurveyID:   "s1",
			EntityType: domain.EntityLocationOfInterest,
			EntityID:   id,
			Operation:  domain.OpCreate,
			Status:     domain.MutationPending,
			LocationOfInterest: &domain.LocationOfInterest{
				ID:       id,
				SurveyID: "s1",
				JobID:    "job",
				Geometry: domain.Point{Coordinates: domain.GeoPoint{Lat: 1, Lon: 2}},
			},
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	cfg := usecases.SyncConfig{
		RetryBudget:      3,
		AttemptsPerDrain: 2,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
		Concurrency:      1,
	}
	remote := &slowRemote{delay: 40 * time.Millisecond}
	engine := usecases.NewSyncEngine(store, remote, cfg)
	timeouts := workflows.TimeoutsFor(cfg, 0)

	var heartbeat time.Duration
	out, _, err := runWorkflow(t, engine,
		workflows.SyncInput{SurveyID: "s1", Timeouts: timeouts},
		func(env *testsuite.TestWorkflowEnvironment) {
			env.SetWorkflowRunTimeout(time.Hour)
			env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, _ converter.EncodedValues) {
				heartbeat = info.HeartbeatTimeout
			})
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Synced != 5 || out.Pending != 0 || remote.applied.Load() != 5 {
		t.Errorf("expected every mutation synced, got %+v (applied %d)", out, remote.applied.Load())
	}
	if heartbeat != timeouts.Heartbeat {
		t.Errorf("expected heartbeat timeout %v, got %v", timeouts.Heartbeat, heartbeat)
	}
	if left, _ := store.PendingMutations(context.Background(), domain.MutationFilter{SurveyID: "s1"}); len(left) != 0 {
		t.Errorf("expected empty queue, got %d", len(left))
	}
}

func TestTimeoutsFor(t *testing.T) {
	cfg := usecases.SyncConfig{AttemptsPerDrain: 3, MaxBackoff: 30 * time.Second}

	got := workflows.TimeoutsFor(cfg, 10*time.Minute)
	if got.Heartbeat != 90*time.Second || got.Drain != 10*time.Minute {
		t.Errorf("unexpected timeouts %+v", got)
	}

	got = workflows.TimeoutsFor(cfg, time.Minute)
	if got.Drain != 3*time.Minute {
		t.Errorf("expected drain raised above the backoff budget, got %v", got.Drain)
	}
}

type fakeStarter struct {
	workflowID string
	signal     string
	arg        interface{}
	opts       client.StartWorkflowOptions
	input      workflows.SyncInput
	err        error
}

func (f *fakeStarter) SignalWithStartWorkflow(_ context.Context, workflowID, signalName string, signalArg interface{},
	options client.StartWorkflowOptions, _ interface{}, workflowArgs ...interface{}) (client.WorkflowRun, error) {
	f.workflowID, f.signal, f.arg, f.opts = workflowID, signalName, signalArg, options
	if len(workflowArgs) == 1 {
		f.input, _ = workflowArgs[0].(workflows.SyncInput)
	}
	return nil, f.err
}

func TestTemporalScheduler_EnqueueSync(t *testing.T) {
	f := &fakeStarter{}
	s := workflows.NewTemporalScheduler(f, "groundsync-sync", time.Minute, workflows.ActivityTimeouts{Drain: 10 * time.Minute, Heartbeat: 2 * time.Minute})

	if err := s.EnqueueSync(context.Background(), "s1", "loi-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.workflowID != "sync-survey-s1" || f.opts.ID != f.workflowID {
		t.Errorf("unexpected workflow id %q / %q", f.workflowID, f.opts.ID)
	}
	if f.signal != workflows.SignalSyncRequested || f.arg != "loi-1" {
		t.Errorf("unexpected signal %q(%v)", f.signal, f.arg)
	}
	if f.opts.TaskQueue != "groundsync-sync" || f.input.SurveyID != "s1" || f.input.RetryDelay != time.Minute {
		t.Errorf("unexpected start options %+v / %+v", f.opts, f.input)
	}
	if f.input.Timeouts.Drain != 10*time.Minute || f.input.Timeouts.Heartbeat != 2*time.Minute {
		t.Errorf("unexpected activity timeouts %+v", f.input.Timeouts)
	}
}

func TestTemporalScheduler_Error(t *testing.T) {
	f := &fakeStarter{err: errors.New("frontend unavailable")}
	s := workflows.NewTemporalScheduler(f, "q", 0, workflows.ActivityTimeouts{})

	if err := s.EnqueueSync(context.Background(), "s1", "loi-1"); err == nil {
		t.Error("expected error")
	}
}
