package reconciliation

import (
	"context"
	"time"

	"github.com/frahmantamala/autoservice-payments/internal/booking"
	"github.com/frahmantamala/autoservice-payments/internal/core/events"
)

// StaleBooking is a pending_payment booking past the cutoff without a
// completed intent.
type StaleBooking struct {
	ID   int64  `db:"id"`
	Code string `db:"code"`
}

// Reader computes candidate sets. Results are ordered by id and paged with
// afterID so a batch never revisits rows.
type Reader interface {
	StaleUnpaidBookings(ctx context.Context, createdBefore time.Time, afterID int64, limit int) ([]StaleBooking, error)
	DriftedBookings(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

type BookingService interface {
	SyncPaymentAggregate(ctx context.Context, bookingID int64) (*booking.SyncResult, error)
	CancelUnpaid(ctx context.Context, bookingID int64, reason string) (bool, error)
}

type IntentService interface {
	ExpireStaleIntents(ctx context.Context, limit int) (int, error)
	CancelPendingIntents(ctx context.Context, bookingID int64, reason string) (int, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

const (
	PassStaleBookings = "stale_bookings"
	PassIntentExpiry  = "intent_expiry"
	PassResync        = "paid_amount_resync"
)

// PassReport summarizes one pass of a cycle.
type PassReport struct {
	Name     string
	Examined int
	Changed  int
	Failed   int
	Err      error
	Duration time.Duration
}

type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Passes    []PassReport
}

// Pass returns the report of the named pass, or nil if it did not run.
func (r CycleReport) Pass(name string) *PassReport {
	for i := range r.Passes {
		if r.Passes[i].Name == name {
			return &r.Passes[i]
		}
	}
	return nil
}
