// Package persistence provides the data storage abstraction for automation
// definitions and runs.
package persistence

import (
	"context"
	"time"

	"github.com/fakturo/fakturo/pkg/models"
)

type Persistence interface {
	AutomationRepository() AutomationRepository
	RunRepository() RunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores definitions and their immutable activation
// revisions.
type AutomationRepository interface {
	GetAll(ctx context.Context) ([]*models.AutomationDefinition, error)
	GetByID(ctx context.Context, id string) (*models.AutomationDefinition, error)
	Save(ctx context.Context, definition *models.AutomationDefinition) error
	Delete(ctx context.Context, id string) error

	// ListActiveByTrigger returns active definitions whose trigger type
	// matches. The dispatcher calls this on every event.
	ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationDefinition, error)

	// SaveRevision stores an immutable snapshot of the definition's graph
	// under (definition id, revision). Activation writes one; runs read the
	// revision they were dispatched against for their whole lifetime.
	SaveRevision(ctx context.Context, definition *models.AutomationDefinition) error
	GetRevision(ctx context.Context, id string, revision int) (*models.AutomationDefinition, error)

	// IncrementStats applies one terminal run outcome to the definition's
	// aggregate counters. Implementations must use increment semantics so
	// concurrent terminal runs never lose updates.
	IncrementStats(ctx context.Context, id string, outcome models.RunStatus, finishedAt time.Time) error
}

// RunRepository stores automation runs, indexed by (status, resume_at) so the
// scheduler's due-run scan stays cheap.
type RunRepository interface {
	Save(ctx context.Context, run *models.AutomationRun) error
	GetByID(ctx context.Context, id string) (*models.AutomationRun, error)
	ListByDefinition(ctx context.Context, definitionID string) ([]*models.AutomationRun, error)

	// SaveIfStatus writes the run only if its stored status is still one of
	// the expected values, in one atomic compare-and-write. The scheduler
	// checkpoints with it so a concurrent status transition (a cancellation,
	// a terminal write) is never overwritten by a stale in-memory copy.
	SaveIfStatus(ctx context.Context, run *models.AutomationRun, expected ...models.RunStatus) (bool, error)

	// ListDue returns runs with status waiting and resume_at <= now.
	ListDue(ctx context.Context, now time.Time) ([]*models.AutomationRun, error)

	// ClaimDue atomically transitions one run from waiting to running,
	// provided it is still waiting and due. Exactly one of any number of
	// concurrent callers wins and receives the run as stored at claim time;
	// the rest get nil. Callers must drive the returned row, not whatever
	// copy led them to claim.
	ClaimDue(ctx context.Context, runID string, now time.Time) (*models.AutomationRun, error)
}
