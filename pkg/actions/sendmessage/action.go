// Package sendmessage implements the send_message action: it renders a stored
// message template and hands it to the application's delivery service.
package sendmessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fakturo/fakturo/pkg/models"
)

const (
	RecipientCustomer = "customer"
	RecipientCustom   = "custom"
)

var (
	ErrMissingTemplateID    = errors.New("send_message requires a template_id")
	ErrMissingCustomEmail   = errors.New("recipient_type custom requires a custom_email")
	ErrInvalidRecipientType = errors.New("invalid recipient_type")
)

// Deliverer is the application-side service that renders a template against a
// run's payload and sends the result. The engine only orchestrates the call.
type Deliverer interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// Delivery describes one message to send.
type Delivery struct {
	TemplateID    string
	RecipientType string
	CustomEmail   string
	Payload       map[string]any
}

type Action struct {
	TemplateID    string
	RecipientType string
	CustomEmail   string

	deliverer Deliverer
}

func NewAction(config map[string]any, deliverer Deliverer) (*Action, error) {
	templateID, _ := config["template_id"].(string)
	if templateID == "" {
		return nil, ErrMissingTemplateID
	}

	recipientType, _ := config["recipient_type"].(string)
	if recipientType == "" {
		recipientType = RecipientCustomer
	}

	customEmail, _ := config["custom_email"].(string)

	switch recipientType {
	case RecipientCustomer:
	case RecipientCustom:
		if customEmail == "" {
			return nil, ErrMissingCustomEmail
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecipientType, recipientType)
	}

	return &Action{
		TemplateID:    templateID,
		RecipientType: recipientType,
		CustomEmail:   customEmail,
		deliverer:     deliverer,
	}, nil
}

// Execute delivers the message. The trigger payload rides along so the
// template can reference record fields; delivery failures fail the node.
func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "send_message", "template_id", a.TemplateID)
	logger.InfoContext(ctx, "Executing send_message action", "recipient_type", a.RecipientType)

	err := a.deliverer.Deliver(ctx, Delivery{
		TemplateID:    a.TemplateID,
		RecipientType: a.RecipientType,
		CustomEmail:   a.CustomEmail,
		Payload:       executionCtx.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deliver message: %w", err)
	}

	return map[string]any{
		"template_id":    a.TemplateID,
		"recipient_type": a.RecipientType,
		"delivered":      true,
	}, nil
}
