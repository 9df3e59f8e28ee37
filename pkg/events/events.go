// Package events defines the event types exchanged over the event bus: the
// business-domain events that trigger automations and the run lifecycle
// notifications the engine emits.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fakturo/fakturo/pkg/models"
)

type EventType string

// Bus topics.
const DomainTopic = "fakturo.domain.events" // Business events from the records application
const RunTopic = "fakturo.run.events"       // Run lifecycle notifications from the engine

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// DomainEventType marks a business event carrying a trigger type.
	DomainEventType EventType = "domain.event"

	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunSuspendedEvent EventType = "run.suspended"
	RunResumedEvent   EventType = "run.resumed"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
)

// ErrInvalidEventData indicates an event is missing required fields.
var ErrInvalidEventData = errors.New("invalid event data")

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps identity and time onto an event.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// DomainEvent is a business event published by the surrounding records
// application (or the queue source). The dispatcher fans it out to every
// active automation whose trigger type matches.
type DomainEvent struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	Payload     map[string]any     `json:"payload,omitempty"`
}

func (e DomainEvent) GetType() EventType {
	return DomainEventType
}

// Validate checks the event carries a known trigger type.
func (e DomainEvent) Validate() error {
	if !e.TriggerType.IsValid() {
		return ErrInvalidEventData
	}

	return nil
}

// RunEvent is the shared shape of run lifecycle notifications.
type RunEvent struct {
	BaseEvent

	RunID        string           `json:"run_id"`
	DefinitionID string           `json:"definition_id"`
	Status       models.RunStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	DurationMs   int64            `json:"duration_ms,omitempty"`
}

type RunStarted struct{ RunEvent }

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunSuspended struct {
	RunEvent

	ResumeAt time.Time `json:"resume_at"`
}

func (e RunSuspended) GetType() EventType { return RunSuspendedEvent }

type RunResumed struct{ RunEvent }

func (e RunResumed) GetType() EventType { return RunResumedEvent }

type RunCompleted struct{ RunEvent }

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct{ RunEvent }

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type RunCancelled struct{ RunEvent }

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }
