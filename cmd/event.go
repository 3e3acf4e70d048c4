package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/autoservice-payments/internal/core/events"
	"github.com/frahmantamala/autoservice-payments/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Inspect the payment lifecycle events and publish test events through the audit pipeline`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test lifecycle event",
	Long:  `Publish a test event to the event bus with the audit log subscribed, for debugging log shipping`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(args[0])
	},
}

var listEventCmd = &cobra.Command{
	Use:   "list",
	Short: "List audited event types",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range events.AuditedEventTypes {
			fmt.Println(t)
		}
	},
}

var (
	eventData      string
	eventBookingID int64
)

func publishTestEvent(eventType string) error {
	if !slices.Contains(events.AuditedEventTypes, eventType) {
		return fmt.Errorf("unknown event type %q, expected one of %s", eventType, strings.Join(events.AuditedEventTypes, ", "))
	}

	lg := logger.LoggerWrapper()
	eventBus := events.NewEventBus(lg)
	events.RegisterAuditLog(eventBus, lg)

	testEvent := events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"booking_id": eventBookingID,
			"message":    eventData,
			"source":     "cli-command",
		},
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", testEvent.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eventBus.Publish(ctx, testEvent); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if err := eventBus.Wait(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "handlers did not finish:", err)
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event data message")
	publishEventCmd.Flags().Int64Var(&eventBookingID, "booking-id", 0, "Booking id to attach to the event")

	eventCmd.AddCommand(publishEventCmd)
	eventCmd.AddCommand(listEventCmd)

	rootCmd.AddCommand(eventCmd)
}
