package sendmessage

import (
	"context"
	"log/slog"
)

// LogDeliverer writes deliveries to the structured log instead of sending
// them. It stands in when the engine runs without the application's delivery
// service attached.
type LogDeliverer struct {
	logger *slog.Logger
}

func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger.With("module", "log_deliverer")}
}

func (d *LogDeliverer) Deliver(ctx context.Context, delivery Delivery) error {
	d.logger.InfoContext(ctx, "Message delivery",
		"template_id", delivery.TemplateID,
		"recipient_type", delivery.RecipientType,
		"custom_email", delivery.CustomEmail,
	)

	return nil
}
