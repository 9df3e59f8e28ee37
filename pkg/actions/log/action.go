// Package log implements the log action, which writes a configured message to
// the engine's structured log. Mostly useful while building an automation.
package log

import (
	"context"
	"log/slog"

	"github.com/fakturo/fakturo/pkg/models"
)

type Action struct {
	Message string
	Level   string
}

func NewAction(config map[string]any) *Action {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Action{Message: message, Level: level}
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "log", "run_id", executionCtx.RunID)

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, a.Message, "payload", executionCtx.Payload)
	case "warn", "warning":
		logger.WarnContext(ctx, a.Message, "payload", executionCtx.Payload)
	case "error":
		logger.ErrorContext(ctx, a.Message, "payload", executionCtx.Payload)
	default:
		logger.InfoContext(ctx, a.Message, "payload", executionCtx.Payload)
	}

	return map[string]any{"message": a.Message, "level": a.Level}, nil
}
