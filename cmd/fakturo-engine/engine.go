package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fakturo/fakturo/pkg/dispatcher"
	"github.com/fakturo/fakturo/pkg/eventbus"
	"github.com/fakturo/fakturo/pkg/interpreter"
	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/registry"
	"github.com/fakturo/fakturo/pkg/scheduler"
	"github.com/fakturo/fakturo/pkg/sources/queue"
)

// Engine hosts the dispatcher and the scheduler in one process: it consumes
// domain events, starts runs and wakes suspended runs.
type Engine struct {
	id           string
	persistence  persistence.Persistence
	eventBus     eventbus.EventBus
	registry     *registry.Registry
	queueConfig  *queue.Config
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewEngine(
	id string,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	reg *registry.Registry,
	queueConfig *queue.Config,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		id:           id,
		persistence:  p,
		eventBus:     eventBus,
		registry:     reg,
		queueConfig:  queueConfig,
		pollInterval: pollInterval,
		logger:       logger.With("module", "engine", "engine_id", id),
	}
}

// Start runs the engine until a termination signal arrives.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.handleSignals(cancel)
	e.logger.InfoContext(ctx, "Starting engine")

	interp := interpreter.NewInterpreter(e.registry, e.logger)
	sched := scheduler.NewScheduler(e.persistence, interp, e.eventBus, e.logger)

	go sched.Run(ctx, e.pollInterval)

	if e.queueConfig != nil {
		receiver, err := queue.NewReceiver(*e.queueConfig, e.eventBus, e.logger)
		if err != nil {
			return err
		}

		if err := receiver.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := receiver.Stop(ctx); err != nil {
				e.logger.ErrorContext(ctx, "Failed to stop queue receiver", "error", err)
			}
		}()
	}

	disp := dispatcher.NewDispatcher(e.id, e.persistence, sched, e.eventBus, e.logger)

	return disp.Start(ctx)
}

func (e *Engine) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		e.logger.Info("Received signal, shutting down gracefully", "signal", sig)
		cancel()
	}()
}
