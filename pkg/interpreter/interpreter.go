// Package interpreter walks one automation's graph for one run, one node at a
// time. It produces execution log entries and reports to the scheduler whether
// the run continues, suspends, completes or fails; it never persists anything
// itself.
package interpreter

import (
	"context"
	"log/slog"
	"time"

	"github.com/fakturo/fakturo/pkg/condition"
	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/registry"
)

// Outcome classifies a single interpreter step.
type Outcome string

const (
	// OutcomeContinue means the step finished and NextNodeID should run next.
	OutcomeContinue Outcome = "continue"
	// OutcomeSuspend means the run must park until ResumeAt and resume at NextNodeID.
	OutcomeSuspend Outcome = "suspend"
	// OutcomeComplete means the path ended and the run is done.
	OutcomeComplete Outcome = "complete"
	// OutcomeFail means a node failed and the run terminates as failed.
	OutcomeFail Outcome = "fail"
)

// StepResult is the interpreter's report back to the scheduler.
type StepResult struct {
	Outcome    Outcome
	NextNodeID string
	ResumeAt   time.Time
	Err        error
}

func continueAt(nodeID string) StepResult {
	return StepResult{Outcome: OutcomeContinue, NextNodeID: nodeID}
}

func suspendUntil(resumeAt time.Time, nodeID string) StepResult {
	return StepResult{Outcome: OutcomeSuspend, NextNodeID: nodeID, ResumeAt: resumeAt}
}

func complete() StepResult {
	return StepResult{Outcome: OutcomeComplete}
}

func fail(err error) StepResult {
	return StepResult{Outcome: OutcomeFail, Err: err}
}

type Interpreter struct {
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewInterpreter(registry *registry.Registry, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		registry: registry,
		logger:   logger.With("module", "interpreter"),
		now:      time.Now,
	}
}

// Step executes the node the run currently points at. The scheduler calls it
// in a loop (not recursively, to bound stack depth on long chains) until it
// returns something other than OutcomeContinue. Log entries are appended to
// the run in execution order; the caller persists them.
func (i *Interpreter) Step(ctx context.Context, run *models.AutomationRun, definition *models.AutomationDefinition) StepResult {
	node, ok := definition.NodeByID(run.CurrentNodeID)
	if !ok {
		return fail(&UnknownNodeError{NodeID: run.CurrentNodeID, DefinitionID: definition.ID})
	}

	logger := i.logger.With(
		"run_id", run.ID,
		"definition_id", definition.ID,
		"node_id", node.ID,
		"node_type", node.Type,
	)

	switch node.Type {
	case models.NodeTypeTrigger:
		return i.stepTrigger(node)
	case models.NodeTypeAction:
		return i.stepAction(ctx, run, node, logger)
	case models.NodeTypeCondition:
		return i.stepCondition(run, node, logger)
	case models.NodeTypeWait:
		return i.stepWait(run, node, logger)
	default:
		return fail(&UnknownNodeError{NodeID: node.ID, DefinitionID: definition.ID})
	}
}

// stepTrigger is always the entry point: it writes no log entry and
// immediately follows its single default edge.
func (i *Interpreter) stepTrigger(node *models.Node) StepResult {
	edge, ok := node.EdgeFor(models.EdgeDefault)
	if !ok {
		return complete()
	}

	return continueAt(edge.TargetNodeID)
}

func (i *Interpreter) stepAction(ctx context.Context, run *models.AutomationRun, node *models.Node, logger *slog.Logger) StepResult {
	startedAt := i.now()

	executor, err := i.registry.CreateExecutor(node.SubType, node.Config)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create action executor", "sub_type", node.SubType, "error", err)
		run.AppendLog(failedEntry(node, startedAt, i.now(), err))

		return fail(err)
	}

	result, err := executor.Execute(ctx, models.NewExecutionContext(run), logger)
	if err != nil {
		logger.ErrorContext(ctx, "Action executor failed", "sub_type", node.SubType, "error", err)
		run.AppendLog(failedEntry(node, startedAt, i.now(), err))

		return fail(err)
	}

	run.RecordResult(node.ID, result)
	run.AppendLog(completedEntry(node, startedAt, i.now()))

	edge, ok := node.EdgeFor(models.EdgeDefault)
	if !ok {
		return complete()
	}

	return continueAt(edge.TargetNodeID)
}

// stepCondition resolves config.field by dotted-path lookup against the run's
// payload and follows the "true" or "false" edge. Evaluation is deterministic
// for a given payload and revision, and fail-closed: missing fields and
// unrecognized operators select the false branch rather than failing the run.
func (i *Interpreter) stepCondition(run *models.AutomationRun, node *models.Node, logger *slog.Logger) StepResult {
	startedAt := i.now()

	field, _ := node.Config["field"].(string)
	operator, _ := node.Config["operator"].(string)
	expected := node.Config["value"]

	actual, found := condition.Lookup(run.Payload, field)

	outcome := false
	if found {
		outcome = condition.Evaluate(operator, actual, expected)
	}

	label := models.EdgeFalse
	if outcome {
		label = models.EdgeTrue
	}

	logger.Debug("Condition evaluated", "field", field, "operator", operator, "branch", label)
	run.AppendLog(completedEntry(node, startedAt, i.now()))

	edge, ok := node.EdgeFor(label)
	if !ok {
		// The selected branch has no edge: the path ends here.
		return complete()
	}

	return continueAt(edge.TargetNodeID)
}

// stepWait converts the node's duration config into an absolute resume time
// and suspends. No goroutine or timer is held across the wait: the scheduler
// persists the run and a later tick picks it up.
func (i *Interpreter) stepWait(run *models.AutomationRun, node *models.Node, logger *slog.Logger) StepResult {
	startedAt := i.now()

	duration, err := models.ParseWaitDuration(node.Config)
	if err != nil {
		logger.Error("Invalid wait node config", "error", err)
		run.AppendLog(failedEntry(node, startedAt, i.now(), err))

		return fail(err)
	}

	edge, ok := node.EdgeFor(models.EdgeDefault)
	if !ok {
		// Waiting with nowhere to go afterwards is just the end of the path.
		run.AppendLog(completedEntry(node, startedAt, i.now()))

		return complete()
	}

	resumeAt := startedAt.Add(duration)

	run.AppendLog(models.ExecutionLogEntry{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Label:     node.Name,
		Status:    models.LogStatusWaiting,
		StartedAt: startedAt,
	})

	return suspendUntil(resumeAt, edge.TargetNodeID)
}

func completedEntry(node *models.Node, startedAt, finishedAt time.Time) models.ExecutionLogEntry {
	return models.ExecutionLogEntry{
		NodeID:     node.ID,
		NodeType:   node.Type,
		Label:      node.Name,
		Status:     models.LogStatusCompleted,
		StartedAt:  startedAt,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
	}
}

func failedEntry(node *models.Node, startedAt, finishedAt time.Time, err error) models.ExecutionLogEntry {
	return models.ExecutionLogEntry{
		NodeID:     node.ID,
		NodeType:   node.Type,
		Label:      node.Name,
		Status:     models.LogStatusFailed,
		StartedAt:  startedAt,
		DurationMs: finishedAt.Sub(startedAt).Milliseconds(),
		Error:      err.Error(),
	}
}
