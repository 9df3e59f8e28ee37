// Package queue receives domain events from a Redis list and republishes them
// onto the event bus. It lets the records application enqueue trigger
// occurrences with a plain LPUSH instead of talking to Kafka directly.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fakturo/fakturo/pkg/eventbus"
	"github.com/fakturo/fakturo/pkg/events"
)

// ErrMissingQueue is returned when no queue name is configured.
var ErrMissingQueue = errors.New("queue name is required")

type Config struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

// Receiver pops JSON domain events off a Redis list and forwards the valid
// ones to the bus. Malformed or unknown-trigger messages are dropped with a
// log line; they would never match an automation anyway.
type Receiver struct {
	config   Config
	client   redis.UniversalClient
	eventBus eventbus.EventPublisher
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReceiver(config Config, eventBus eventbus.EventPublisher, logger *slog.Logger) (*Receiver, error) {
	if config.Queue == "" {
		return nil, ErrMissingQueue
	}

	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}

	return &Receiver{
		config:   config,
		eventBus: eventBus,
		stopCh:   make(chan struct{}),
		logger: logger.With(
			"module", "queue_receiver",
			"queue", config.Queue,
		),
	}, nil
}

func (r *Receiver) Start(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:     r.config.Addr,
		Password: r.config.Password,
		DB:       r.config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.logger.InfoContext(ctx, "Connected to Redis", "addr", r.config.Addr, "db", r.config.DB)

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	r.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			if err := r.processMessage(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, 1*time.Second, r.config.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var event events.DomainEvent
	if err := json.Unmarshal([]byte(message), &event); err != nil {
		r.logger.ErrorContext(ctx, "Dropping malformed queue message", "error", err)

		return nil
	}

	if err := event.Validate(); err != nil {
		r.logger.ErrorContext(ctx, "Dropping queue message with unknown trigger type",
			"trigger_type", event.TriggerType)

		return nil
	}

	if event.ID == "" {
		event.BaseEvent = events.NewBaseEvent(events.DomainEventType)
	}

	if err := r.eventBus.Publish(ctx, string(event.TriggerType), event); err != nil {
		return fmt.Errorf("failed to publish domain event: %w", err)
	}

	r.logger.InfoContext(ctx, "Forwarded domain event", "trigger_type", event.TriggerType)

	return nil
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping queue receiver")

	close(r.stopCh)
	r.wg.Wait()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
