package services

import (
	"context"

	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/scheduler"
)

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = persistence.ErrRunNotFound

type Run struct {
	persistence persistence.Persistence
	scheduler   *scheduler.Scheduler
}

// NewRun creates a new run service.
func NewRun(p persistence.Persistence, sched *scheduler.Scheduler) *Run {
	return &Run{persistence: p, scheduler: sched}
}

// ListByAutomation returns every run for one automation, newest first.
func (s *Run) ListByAutomation(ctx context.Context, definitionID string) ([]*models.AutomationRun, error) {
	if _, err := s.persistence.AutomationRepository().GetByID(ctx, definitionID); err != nil {
		return nil, err
	}

	return s.persistence.RunRepository().ListByDefinition(ctx, definitionID)
}

// FetchByID retrieves a run with its full execution log.
func (s *Run) FetchByID(ctx context.Context, id string) (*models.AutomationRun, error) {
	return s.persistence.RunRepository().GetByID(ctx, id)
}

// StartManual starts a run for an automation on demand, regardless of its
// trigger type. The run is recorded with the manual trigger so the log shows
// it was not caused by a business event.
func (s *Run) StartManual(ctx context.Context, definitionID string, payload map[string]any) (*models.AutomationRun, error) {
	definition, err := s.persistence.AutomationRepository().GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	return s.scheduler.StartRun(ctx, definition, models.TriggerManual, payload)
}

// Retry replays a failed run from the beginning as a new run.
func (s *Run) Retry(ctx context.Context, runID string) (*models.AutomationRun, error) {
	return s.scheduler.Retry(ctx, runID)
}

// Cancel stops a pending, running or waiting run.
func (s *Run) Cancel(ctx context.Context, runID string) error {
	return s.scheduler.Cancel(ctx, runID)
}
