package events

import (
	"context"
	"log/slog"
)

var AuditedEventTypes = []string{
	EventTypePaymentCompleted,
	EventTypePaymentFailed,
	EventTypeIntentExpired,
	EventTypeIntentCancelled,
	EventTypeBookingAutoCancelled,
}

// RegisterAuditLog writes every payment lifecycle event to the audit logger.
func RegisterAuditLog(bus *EventBus, logger *slog.Logger) {
	audit := logger.With("component", "audit")
	for _, eventType := range AuditedEventTypes {
		bus.Subscribe(eventType, func(ctx context.Context, event Event) error {
			audit.InfoContext(ctx, "payment lifecycle event",
				"event_type", event.EventType(),
				"event_id", event.EventID(),
				"occurred_at", event.OccurredAt(),
				"payload", event.Payload())
			return nil
		})
	}
}
