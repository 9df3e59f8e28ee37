// Package dispatcher connects trigger sources to the scheduler. It consumes
// domain events from the event bus and fires scheduled automations from an
// internal cron clock, fanning each occurrence out to every matching active
// automation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fakturo/fakturo/pkg/eventbus"
	"github.com/fakturo/fakturo/pkg/events"
	"github.com/fakturo/fakturo/pkg/models"
	"github.com/fakturo/fakturo/pkg/otelhelper"
	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/scheduler"
)

// ErrUnexpectedEvent is returned when the bus delivers something that is not
// a domain event.
var ErrUnexpectedEvent = errors.New("unexpected event on domain topic")

type Dispatcher struct {
	id          string
	automations persistence.AutomationRepository
	scheduler   *scheduler.Scheduler
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewDispatcher(
	id string,
	p persistence.Persistence,
	sched *scheduler.Scheduler,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		id:          id,
		automations: p.AutomationRepository(),
		scheduler:   sched,
		eventBus:    eventBus,
		logger:      logger.With("module", "dispatcher", "dispatcher_id", id),
		tracer:      otel.Tracer("fakturo.dispatcher"),
		now:         time.Now,
	}
}

// Start subscribes to domain events and begins the cron clock, then blocks
// until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	err := d.eventBus.Handle(events.DomainEventType, func(ctx context.Context, event any) error {
		domainEvent, ok := event.(*events.DomainEvent)
		if !ok {
			return ErrUnexpectedEvent
		}

		return d.handleDomainEvent(ctx, domainEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to register domain event handler: %w", err)
	}

	if err := d.eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to domain events: %w", err)
	}

	d.logger.InfoContext(ctx, "Dispatcher started")

	go d.runCron(ctx)

	<-ctx.Done()
	d.logger.InfoContext(ctx, "Dispatcher stopped")

	return nil
}

func (d *Dispatcher) handleDomainEvent(ctx context.Context, event *events.DomainEvent) error {
	logger := d.logger.With("event_id", event.ID, "trigger_type", event.TriggerType)

	if err := event.Validate(); err != nil {
		logger.ErrorContext(ctx, "Dropping invalid domain event", "error", err)

		// Invalid events are not redeliverable; ack and move on.
		return nil
	}

	started, err := d.OnEvent(ctx, event.TriggerType, event.Payload)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Domain event dispatched", "runs_started", started)

	return nil
}

// OnEvent fans one trigger occurrence out to every active automation whose
// trigger type matches. Each automation gets its own independent run; one
// automation failing to start never blocks the others.
func (d *Dispatcher) OnEvent(ctx context.Context, triggerType models.TriggerType, payload map[string]any) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.on_event",
		attribute.String(otelhelper.TriggerTypeKey, string(triggerType)),
	)
	defer span.End()

	definitions, err := d.automations.ListActiveByTrigger(ctx, triggerType)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, fmt.Errorf("failed to list automations for trigger: %w", err)
	}

	started := 0

	for _, definition := range definitions {
		run, err := d.scheduler.StartRun(ctx, definition, triggerType, payload)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to start run",
				"definition_id", definition.ID,
				"trigger_type", triggerType,
				"error", err)

			continue
		}

		d.logger.InfoContext(ctx, "Run started", "definition_id", definition.ID, "run_id", run.ID)
		started++
	}

	return started, nil
}

// runCron fires time.schedule automations. Once a minute it checks every
// active scheduled automation for an occurrence that fell inside the window
// since the previous check, so a slow tick never skips an occurrence.
func (d *Dispatcher) runCron(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	d.logger.InfoContext(ctx, "Cron clock started")

	lastTick := d.now().UTC()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			now := tick.UTC()
			d.tickCron(ctx, lastTick, now)
			lastTick = now
		}
	}
}

func (d *Dispatcher) tickCron(ctx context.Context, from, to time.Time) {
	definitions, err := d.automations.ListActiveByTrigger(ctx, models.TriggerSchedule)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to list scheduled automations", "error", err)

		return
	}

	for _, definition := range definitions {
		next, err := definition.NextScheduledAt(from)
		if err != nil {
			d.logger.ErrorContext(ctx, "Skipping automation with invalid schedule",
				"definition_id", definition.ID,
				"error", err)

			continue
		}

		if next.After(to) {
			continue
		}

		payload := map[string]any{"scheduled_at": next.UTC().Format(time.RFC3339)}

		if _, err := d.scheduler.StartRun(ctx, definition, models.TriggerSchedule, payload); err != nil {
			d.logger.ErrorContext(ctx, "Failed to start scheduled run",
				"definition_id", definition.ID,
				"error", err)
		}
	}
}
