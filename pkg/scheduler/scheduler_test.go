package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logaction "github.com/fakturo/fakturo/pkg/actions/log"
	"github.com/fakturo/fakturo/pkg/interpreter"
	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/persistence/file"
	"github.com/fakturo/fakturo/pkg/protocol"
	"github.com/fakturo/fakturo/pkg/registry"
)

type failingExecutor struct{}

func (failingExecutor) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	return nil, errors.New("delivery rejected")
}

type failingFactory struct{}

func (failingFactory) ID() string { return "send_message" }

func (failingFactory) Create(_ map[string]any) (protocol.ActionExecutor, error) {
	return failingExecutor{}, nil
}

func (failingFactory) Schema() map[string]any { return nil }

// cancellingExecutor cancels its own run from inside a step, the way an
// operator hitting the cancel endpoint mid-node would.
type cancellingExecutor struct {
	sched *Scheduler
}

func (e *cancellingExecutor) Execute(ctx context.Context, execution models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	if err := e.sched.Cancel(ctx, execution.RunID); err != nil {
		return nil, err
	}

	return map[string]any{"cancelled": true}, nil
}

type cancellingFactory struct {
	executor *cancellingExecutor
}

func (cancellingFactory) ID() string { return "cancel_run" }

func (f cancellingFactory) Create(_ map[string]any) (protocol.ActionExecutor, error) {
	return f.executor, nil
}

func (cancellingFactory) Schema() map[string]any { return nil }

func newTestScheduler(t *testing.T, factories ...protocol.ActionExecutorFactory) (*Scheduler, persistence.Persistence) {
	t.Helper()

	logger := slog.Default()
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(logaction.NewActionFactory())

	for _, factory := range factories {
		reg.RegisterExecutor(factory)
	}

	interp := interpreter.NewInterpreter(reg, logger)

	return NewScheduler(p, interp, nil, logger), p
}

func logDefinition() *models.AutomationDefinition {
	return &models.AutomationDefinition{
		ID:          "auto-log",
		Name:        "Log every order",
		TriggerType: models.TriggerOrderCreated,
		IsActive:    true,
		Revision:    1,
		Nodes: []*models.Node{
			{
				ID:    "trigger-1",
				Type:  models.NodeTypeTrigger,
				Name:  "Order created",
				Edges: []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-1"}},
			},
			{
				ID:      "action-1",
				Type:    models.NodeTypeAction,
				SubType: "log",
				Name:    "Log the order",
				Config:  map[string]any{"message": "order received"},
			},
		},
	}
}

func waitDefinition() *models.AutomationDefinition {
	definition := logDefinition()
	definition.ID = "auto-wait"
	definition.Nodes = []*models.Node{
		{
			ID:    "trigger-1",
			Type:  models.NodeTypeTrigger,
			Name:  "Order created",
			Edges: []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "wait-1"}},
		},
		{
			ID:     "wait-1",
			Type:   models.NodeTypeWait,
			Name:   "One hour cool-off",
			Config: map[string]any{"duration": 1, "unit": "hours"},
			Edges:  []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-1"}},
		},
		{
			ID:      "action-1",
			Type:    models.NodeTypeAction,
			SubType: "log",
			Name:    "Log after the wait",
			Config:  map[string]any{"message": "still here"},
		},
	}

	return definition
}

// chainedWaitDefinition interleaves two waits with two log actions, the second
// wait short enough to be due on the tick that created it.
func chainedWaitDefinition() *models.AutomationDefinition {
	definition := logDefinition()
	definition.ID = "auto-chained"
	definition.Nodes = []*models.Node{
		{
			ID:    "trigger-1",
			Type:  models.NodeTypeTrigger,
			Name:  "Order created",
			Edges: []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "wait-1"}},
		},
		{
			ID:     "wait-1",
			Type:   models.NodeTypeWait,
			Name:   "One hour cool-off",
			Config: map[string]any{"duration": 1, "unit": "hours"},
			Edges:  []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-1"}},
		},
		{
			ID:      "action-1",
			Type:    models.NodeTypeAction,
			SubType: "log",
			Name:    "Log after the first wait",
			Config:  map[string]any{"message": "first wait over"},
			Edges:   []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "wait-2"}},
		},
		{
			ID:     "wait-2",
			Type:   models.NodeTypeWait,
			Name:   "Immediate follow-up",
			Config: map[string]any{"duration": 0, "unit": "minutes"},
			Edges:  []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-2"}},
		},
		{
			ID:      "action-2",
			Type:    models.NodeTypeAction,
			SubType: "log",
			Name:    "Log after the second wait",
			Config:  map[string]any{"message": "second wait over"},
		},
	}

	return definition
}

func TestStartRun_CompletesAndIncrementsStats(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := logDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, map[string]any{"total": float64(99)})
	require.NoError(t, err)

	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, persisted.Status)
	assert.NotNil(t, persisted.CompletedAt)
	assert.Empty(t, persisted.Error)
	assert.Empty(t, persisted.CurrentNodeID)
	require.Len(t, persisted.ExecutionLog, 1)
	assert.Equal(t, "action-1", persisted.ExecutionLog[0].NodeID)

	stored, err := p.AutomationRepository().GetByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Stats.TotalRuns)
	assert.Equal(t, int64(1), stored.Stats.CompletedRuns)
	assert.Equal(t, int64(0), stored.Stats.FailedRuns)
	assert.Equal(t, models.RunStatusCompleted, stored.Stats.LastRunStatus)
	require.NotNil(t, stored.Stats.LastRunAt)
}

func TestStartRun_RejectsInvalidGraph(t *testing.T) {
	sched, _ := newTestScheduler(t)

	definition := logDefinition()
	definition.Nodes = definition.Nodes[1:] // drop the trigger

	_, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoTriggerNode)
}

func TestStartRun_WaitSuspendsDurably(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := waitDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	started := time.Now().UTC()

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusWaiting, persisted.Status)
	assert.Equal(t, "action-1", persisted.CurrentNodeID)
	require.NotNil(t, persisted.ResumeAt)
	assert.WithinDuration(t, started.Add(time.Hour), *persisted.ResumeAt, 5*time.Second)

	// Suspension is not a terminal outcome; stats are untouched.
	stored, err := p.AutomationRepository().GetByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Stats.TotalRuns)
}

func TestTick_ResumesDueRun(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := waitDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	// Before the resume time nothing happens.
	require.NoError(t, sched.Tick(t.Context(), time.Now().UTC().Add(30*time.Minute)))

	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusWaiting, persisted.Status)

	// After it, the run resumes at the node after the wait and finishes.
	require.NoError(t, sched.Tick(t.Context(), time.Now().UTC().Add(2*time.Hour)))

	persisted, err = p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, persisted.Status)
	assert.Nil(t, persisted.ResumeAt)

	require.Len(t, persisted.ExecutionLog, 2)
	assert.Equal(t, models.LogStatusWaiting, persisted.ExecutionLog[0].Status)
	assert.Equal(t, "action-1", persisted.ExecutionLog[1].NodeID)
	assert.Equal(t, models.LogStatusCompleted, persisted.ExecutionLog[1].Status)
}

func TestTick_ResumesExactlyOnce(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := waitDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	due := time.Now().UTC().Add(2 * time.Hour)

	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = sched.Tick(context.Background(), due)
		}()
	}

	wg.Wait()

	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, persisted.Status)

	// A doubled resume would have appended the post-wait entries twice.
	assert.Len(t, persisted.ExecutionLog, 2)

	stored, err := p.AutomationRepository().GetByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Stats.TotalRuns)
}

func TestRetry_ReplaysFailedRunFromTrigger(t *testing.T) {
	sched, p := newTestScheduler(t, failingFactory{})

	definition := logDefinition()
	definition.ID = "auto-failing"
	definition.Nodes[1].SubType = "send_message"
	definition.Nodes[1].Config = map[string]any{"template_id": "thanks"}

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	payload := map[string]any{"total": float64(1500)}

	original, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, payload)
	require.NoError(t, err)

	persisted, err := p.RunRepository().GetByID(t.Context(), original.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, persisted.Status)

	// A failed run points at the node that failed.
	assert.Equal(t, "action-1", persisted.CurrentNodeID)

	originalLogLen := len(persisted.ExecutionLog)

	retry, err := sched.Retry(t.Context(), original.ID)
	require.NoError(t, err)

	assert.NotEqual(t, original.ID, retry.ID)
	assert.Equal(t, original.ID, retry.RetryOfRunID)
	assert.Equal(t, original.Revision, retry.Revision)
	assert.Equal(t, payload, retry.Payload)

	// The retry is an independent run; the original is untouched.
	persisted, err = p.RunRepository().GetByID(t.Context(), original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, persisted.Status)
	assert.Len(t, persisted.ExecutionLog, originalLogLen)

	stored, err := p.AutomationRepository().GetByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Stats.TotalRuns)
	assert.Equal(t, int64(2), stored.Stats.FailedRuns)
}

func TestRetry_OnlyFailedRuns(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := logDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	_, err = sched.Retry(t.Context(), run.ID)
	assert.ErrorIs(t, err, ErrRunNotRetryable)
}

func TestCancel_WaitingRunNeverResumes(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := waitDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	require.NoError(t, sched.Cancel(t.Context(), run.ID))

	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, persisted.Status)
	assert.Nil(t, persisted.ResumeAt)
	require.NotNil(t, persisted.CompletedAt)

	// Ticking past the old resume time must not revive the run.
	require.NoError(t, sched.Tick(t.Context(), time.Now().UTC().Add(2*time.Hour)))

	persisted, err = p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, persisted.Status)
	assert.Len(t, persisted.ExecutionLog, 1)
}

func TestCancel_TerminalRun(t *testing.T) {
	sched, p := newTestScheduler(t)
	definition := logDefinition()

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	err = sched.Cancel(t.Context(), run.ID)
	assert.ErrorIs(t, err, ErrRunNotCancellable)
}

func TestCancel_DuringStepStopsBeforeNextNode(t *testing.T) {
	executor := &cancellingExecutor{}
	sched, p := newTestScheduler(t, cancellingFactory{executor: executor})
	executor.sched = sched

	definition := logDefinition()
	definition.ID = "auto-self-cancel"
	definition.Nodes = []*models.Node{
		{
			ID:    "trigger-1",
			Type:  models.NodeTypeTrigger,
			Name:  "Order created",
			Edges: []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-1"}},
		},
		{
			ID:      "action-1",
			Type:    models.NodeTypeAction,
			SubType: "cancel_run",
			Name:    "Cancel this run",
			Edges:   []models.Edge{{Label: models.EdgeDefault, TargetNodeID: "action-2"}},
		},
		{
			ID:      "action-2",
			Type:    models.NodeTypeAction,
			SubType: "log",
			Name:    "Never reached",
			Config:  map[string]any{"message": "should not log"},
		},
	}

	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	// The cancel written mid-step wins over the step's own checkpoint; the run
	// ends cancelled and the downstream node never executes.
	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, persisted.Status)
	require.NotNil(t, persisted.CompletedAt)

	for _, entry := range persisted.ExecutionLog {
		assert.NotEqual(t, "action-2", entry.NodeID)
	}

	// The run is counted once, by the cancel, never again by the drive loop.
	stored, err := p.AutomationRepository().GetByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Stats.TotalRuns)
	assert.Equal(t, int64(0), stored.Stats.CompletedRuns)
	assert.Equal(t, models.RunStatusCancelled, stored.Stats.LastRunStatus)
}

// staleListRepository hands Tick an old snapshot of a due run, reproducing a
// listing read just before the run progressed and re-suspended.
type staleListRepository struct {
	persistence.RunRepository
	stale *models.AutomationRun
}

func (r *staleListRepository) ListDue(ctx context.Context, now time.Time) ([]*models.AutomationRun, error) {
	due, err := r.RunRepository.ListDue(ctx, now)
	if err != nil || len(due) == 0 {
		return due, err
	}

	return []*models.AutomationRun{r.stale}, nil
}

type staleListPersistence struct {
	persistence.Persistence
	runs persistence.RunRepository
}

func (p staleListPersistence) RunRepository() persistence.RunRepository { return p.runs }

func TestTick_DrivesClaimedRowNotListingCopy(t *testing.T) {
	logger := slog.Default()
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(logaction.NewActionFactory())

	interp := interpreter.NewInterpreter(reg, logger)
	sched := NewScheduler(p, interp, nil, logger)

	definition := chainedWaitDefinition()
	require.NoError(t, p.AutomationRepository().Save(t.Context(), definition))

	run, err := sched.StartRun(t.Context(), definition, models.TriggerOrderCreated, nil)
	require.NoError(t, err)

	// Snapshot of the run parked on the first wait.
	stale, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	require.Equal(t, "action-1", stale.CurrentNodeID)

	due := time.Now().UTC().Add(2 * time.Hour)

	// First tick runs action-1 and re-suspends on the zero-length second wait.
	require.NoError(t, sched.Tick(t.Context(), due))

	persisted, err := p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusWaiting, persisted.Status)
	require.Equal(t, "action-2", persisted.CurrentNodeID)

	// Second tick lists the outdated snapshot, but the claim must hand back
	// the row as stored now, so the run resumes at action-2, not action-1.
	staleP := staleListPersistence{
		Persistence: p,
		runs:        &staleListRepository{RunRepository: p.RunRepository(), stale: stale},
	}

	require.NoError(t, NewScheduler(staleP, interp, nil, logger).Tick(t.Context(), due))

	persisted, err = p.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, persisted.Status)

	counts := make(map[string]int)
	for _, entry := range persisted.ExecutionLog {
		counts[entry.NodeID]++
	}

	assert.Equal(t, 1, counts["action-1"])
	assert.Equal(t, 1, counts["action-2"])

	stored, err := p.AutomationRepository().GetByID(t.Context(), definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Stats.TotalRuns)
}
