// Package scheduler owns the run lifecycle: it creates runs, drives the
// interpreter step loop, parks suspended runs and wakes them up when their
// resume time passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fakturo/fakturo/pkg/eventbus"
	"github.com/fakturo/fakturo/pkg/events"
	"github.com/fakturo/fakturo/pkg/interpreter"
	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/otelhelper"
	"github.com/fakturo/fakturo/pkg/persistence"
)

// ErrRunNotRetryable is returned when retrying a run that did not fail.
var ErrRunNotRetryable = errors.New("only failed runs can be retried")

// ErrRunNotCancellable is returned when cancelling an already terminal run.
var ErrRunNotCancellable = errors.New("run is already in a terminal state")

type Scheduler struct {
	automations persistence.AutomationRepository
	runs        persistence.RunRepository
	interpreter *interpreter.Interpreter
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewScheduler(
	p persistence.Persistence,
	interp *interpreter.Interpreter,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		automations: p.AutomationRepository(),
		runs:        p.RunRepository(),
		interpreter: interp,
		eventBus:    eventBus,
		logger:      logger.With("module", "scheduler"),
		tracer:      otel.Tracer("fakturo.scheduler"),
		now:         time.Now,
	}
}

// StartRun creates a run for the given definition and drives it until it
// suspends or reaches a terminal state. The triggering payload is captured on
// the run at creation and never changes afterwards; edits to the automation
// during the run are invisible because the run executes against the revision
// snapshot taken here.
func (s *Scheduler) StartRun(
	ctx context.Context,
	definition *models.AutomationDefinition,
	triggerType models.TriggerType,
	payload map[string]any,
) (*models.AutomationRun, error) {
	if err := definition.Validate(); err != nil {
		return nil, fmt.Errorf("invalid automation graph: %w", err)
	}

	if err := s.automations.SaveRevision(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to snapshot revision: %w", err)
	}

	trigger, _ := definition.TriggerNode()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	run := &models.AutomationRun{
		ID:            id.String(),
		DefinitionID:  definition.ID,
		Revision:      definition.Revision,
		Status:        models.RunStatusPending,
		TriggerType:   triggerType,
		Payload:       payload,
		CurrentNodeID: trigger.ID,
		ExecutionLog:  []models.ExecutionLogEntry{},
	}

	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, s.begin(ctx, run, definition)
}

// Retry creates a fresh run that replays a failed run's trigger payload from
// the beginning, against the same revision the original executed. The original
// run and its log are left untouched.
func (s *Scheduler) Retry(ctx context.Context, runID string) (*models.AutomationRun, error) {
	original, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if original.Status != models.RunStatusFailed {
		return nil, ErrRunNotRetryable
	}

	definition, err := s.automations.GetRevision(ctx, original.DefinitionID, original.Revision)
	if err != nil {
		return nil, err
	}

	trigger, ok := definition.TriggerNode()
	if !ok {
		return nil, models.ErrNoTriggerNode
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	run := &models.AutomationRun{
		ID:            id.String(),
		DefinitionID:  original.DefinitionID,
		Revision:      original.Revision,
		Status:        models.RunStatusPending,
		TriggerType:   original.TriggerType,
		Payload:       original.Payload,
		CurrentNodeID: trigger.ID,
		ExecutionLog:  []models.ExecutionLogEntry{},
		RetryOfRunID:  original.ID,
	}

	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create retry run: %w", err)
	}

	return run, s.begin(ctx, run, definition)
}

// Cancel marks a non-terminal run as cancelled. A waiting run's resume time is
// cleared so no tick ever picks it up; a running run stops before its next
// node because the drive loop re-reads the persisted status between steps.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return ErrRunNotCancellable
	}

	now := s.now().UTC()
	run.Status = models.RunStatusCancelled
	run.ResumeAt = nil
	run.CompletedAt = &now

	if !run.StartedAt.IsZero() {
		run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	}

	// Guarded write: if the run reached a terminal state between the read
	// above and here, the cancel loses and must not overwrite it.
	written, err := s.runs.SaveIfStatus(ctx, run,
		models.RunStatusPending, models.RunStatusRunning, models.RunStatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to cancel run: %w", err)
	}

	if !written {
		return ErrRunNotCancellable
	}

	if err := s.automations.IncrementStats(ctx, run.DefinitionID, run.Status, now); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update automation stats", "definition_id", run.DefinitionID, "error", err)
	}

	s.publish(ctx, events.RunCancelled{RunEvent: s.runEvent(events.RunCancelledEvent, run)})

	return nil
}

// Tick wakes every waiting run whose resume time has passed. Each run is
// claimed with an atomic waiting-to-running transition first, so overlapping
// ticks (or multiple engine instances) resume a given run exactly once.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.runs.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due runs: %w", err)
	}

	var wg sync.WaitGroup

	for _, run := range due {
		claimed, err := s.runs.ClaimDue(ctx, run.ID, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to claim due run", "run_id", run.ID, "error", err)

			continue
		}

		if claimed == nil {
			continue
		}

		wg.Add(1)

		// Drive the row the claim returned, never the listing copy: the run
		// may have progressed (and re-suspended) since ListDue read it.
		go func(run *models.AutomationRun) {
			defer wg.Done()

			s.resume(ctx, run)
		}(claimed)
	}

	wg.Wait()

	return nil
}

// Run polls for due runs until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "poll_interval", pollInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return
		case now := <-ticker.C:
			if err := s.Tick(ctx, now.UTC()); err != nil {
				s.logger.ErrorContext(ctx, "Tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) begin(ctx context.Context, run *models.AutomationRun, definition *models.AutomationDefinition) error {
	run.Status = models.RunStatusRunning
	run.StartedAt = s.now().UTC()

	written, err := s.runs.SaveIfStatus(ctx, run, models.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	if !written {
		// Cancelled before the first step.
		return nil
	}

	s.publish(ctx, events.RunStarted{RunEvent: s.runEvent(events.RunStartedEvent, run)})

	return s.drive(ctx, run, definition)
}

// resume drives a freshly claimed run. The claim already flipped the
// persisted row to running; run is that row.
func (s *Scheduler) resume(ctx context.Context, run *models.AutomationRun) {
	logger := s.logger.With("run_id", run.ID, "definition_id", run.DefinitionID)

	s.publish(ctx, events.RunResumed{RunEvent: s.runEvent(events.RunResumedEvent, run)})

	definition, err := s.automations.GetRevision(ctx, run.DefinitionID, run.Revision)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load revision for resumed run", "revision", run.Revision, "error", err)
		s.finish(ctx, run, models.RunStatusFailed, err)

		return
	}

	if err := s.drive(ctx, run, definition); err != nil {
		logger.ErrorContext(ctx, "Failed to drive resumed run", "error", err)
	}
}

// drive executes interpreter steps until the run suspends or terminates.
// Every post-step write is a guarded compare-and-write on status running: a
// cancellation that lands while a node executes wins the race, drive's stale
// copy is rejected, and the loop stops before the next node. Cancellation
// therefore takes effect between interpreter steps, never later.
func (s *Scheduler) drive(ctx context.Context, run *models.AutomationRun, definition *models.AutomationDefinition) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.drive",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.AutomationIDKey, run.DefinitionID),
		attribute.Int(otelhelper.RevisionKey, run.Revision),
	)
	defer span.End()

	for {
		// Cheap pre-step read: a cancel persisted before this step must stop
		// the run before the node's side effect, not after.
		persisted, err := s.runs.GetByID(ctx, run.ID)
		if err == nil && persisted.Status == models.RunStatusCancelled {
			s.logger.InfoContext(ctx, "Run cancelled between steps", "run_id", run.ID)

			return nil
		}

		result := s.interpreter.Step(ctx, run, definition)

		switch result.Outcome {
		case interpreter.OutcomeContinue:
			run.CurrentNodeID = result.NextNodeID

			written, err := s.runs.SaveIfStatus(ctx, run, models.RunStatusRunning)
			if err != nil {
				return fmt.Errorf("failed to checkpoint run: %w", err)
			}

			if !written {
				s.logger.InfoContext(ctx, "Run cancelled during step, stopping", "run_id", run.ID)

				return nil
			}
		case interpreter.OutcomeSuspend:
			return s.suspend(ctx, run, result)
		case interpreter.OutcomeComplete:
			s.finish(ctx, run, models.RunStatusCompleted, nil)

			return nil
		case interpreter.OutcomeFail:
			otelhelper.SetError(span, result.Err)
			s.finish(ctx, run, models.RunStatusFailed, result.Err)

			return nil
		}
	}
}

// suspend parks the run durably. Nothing in memory tracks it afterwards: the
// waiting status plus resume time in storage are the whole wait state, so the
// run survives restarts and never occupies a worker while parked.
func (s *Scheduler) suspend(ctx context.Context, run *models.AutomationRun, result interpreter.StepResult) error {
	resumeAt := result.ResumeAt.UTC()

	run.Status = models.RunStatusWaiting
	run.ResumeAt = &resumeAt
	run.CurrentNodeID = result.NextNodeID

	written, err := s.runs.SaveIfStatus(ctx, run, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to suspend run: %w", err)
	}

	if !written {
		s.logger.InfoContext(ctx, "Run cancelled during step, not suspending", "run_id", run.ID)

		return nil
	}

	s.logger.InfoContext(ctx, "Run suspended", "run_id", run.ID, "resume_at", resumeAt)
	s.publish(ctx, events.RunSuspended{
		RunEvent: s.runEvent(events.RunSuspendedEvent, run),
		ResumeAt: resumeAt,
	})

	return nil
}

func (s *Scheduler) finish(ctx context.Context, run *models.AutomationRun, status models.RunStatus, runErr error) {
	now := s.now().UTC()

	run.Status = status
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	run.ResumeAt = nil

	// A failed run keeps CurrentNodeID pointing at the node that failed.
	if status == models.RunStatusCompleted {
		run.CurrentNodeID = ""
	}

	if runErr != nil {
		run.Error = runErr.Error()
	}

	written, err := s.runs.SaveIfStatus(ctx, run, models.RunStatusRunning)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist terminal run", "run_id", run.ID, "error", err)

		return
	}

	if !written {
		// A concurrent cancel already terminated the run and counted it.
		s.logger.InfoContext(ctx, "Run cancelled during final step", "run_id", run.ID)

		return
	}

	if err := s.automations.IncrementStats(ctx, run.DefinitionID, status, now); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update automation stats", "definition_id", run.DefinitionID, "error", err)
	}

	event := s.runEvent(events.RunCompletedEvent, run)

	switch status {
	case models.RunStatusCompleted:
		s.logger.InfoContext(ctx, "Run completed", "run_id", run.ID, "duration_ms", run.DurationMs)
		s.publish(ctx, events.RunCompleted{RunEvent: event})
	case models.RunStatusFailed:
		s.logger.WarnContext(ctx, "Run failed", "run_id", run.ID, "error", run.Error)

		event.Type = events.RunFailedEvent
		s.publish(ctx, events.RunFailed{RunEvent: event})
	}
}

func (s *Scheduler) runEvent(eventType events.EventType, run *models.AutomationRun) events.RunEvent {
	return events.RunEvent{
		BaseEvent:    events.NewBaseEvent(eventType),
		RunID:        run.ID,
		DefinitionID: run.DefinitionID,
		Status:       run.Status,
		Error:        run.Error,
		DurationMs:   run.DurationMs,
	}
}

func (s *Scheduler) publish(ctx context.Context, event eventbus.Event) {
	if s.eventBus == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, string(event.GetType()), event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish run event", "event_type", event.GetType(), "error", err)
	}
}
