// Package protocol defines the contracts between the engine core and the
// side-effecting action executors supplied by external collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/fakturo/fakturo/pkg/models"
)

// ActionExecutor performs the side effect of one action node. Executors are
// created per node execution with the node's config already bound; Execute
// receives the run's immutable payload plus accumulated node results and
// returns result metadata for the execution log.
type ActionExecutor interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionExecutorFactory creates executor instances for one action subtype.
type ActionExecutorFactory interface {
	// ID returns the action subtype this factory serves, e.g. "send_message".
	ID() string

	// Create builds an executor bound to the given node config. Config shape
	// errors surface here, before the node runs.
	Create(config map[string]any) (ActionExecutor, error)

	// Schema returns the JSON schema for this subtype's config, or nil when
	// the subtype accepts anything.
	Schema() map[string]any
}
