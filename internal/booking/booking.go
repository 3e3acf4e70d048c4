package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
)

// AutoCancelReason is recorded on bookings cancelled for lack of payment
// within cutoff of their creation.
func AutoCancelReason(cutoff time.Duration) string {
	return fmt.Sprintf("auto-cancelled: no completed payment within %d hours of booking", int(cutoff.Hours()))
}

// PaymentAggregate is the payment view of a booking derived from its
// completed intents.
type PaymentAggregate struct {
	PaidAmount    decimal.Decimal
	PaymentStatus bookingmodel.PaymentStatus
	PaidAt        *time.Time
	Confirm       bool
}

type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*bookingmodel.Booking, error)
	// CompletedTotal sums the amounts of the booking's completed intents.
	CompletedTotal(ctx context.Context, bookingID int64) (decimal.Decimal, error)
	// ApplyPaymentAggregate stores the aggregate and, when Confirm is set,
	// confirms a booking still awaiting payment. Cancelled bookings keep
	// their status.
	ApplyPaymentAggregate(ctx context.Context, bookingID int64, agg PaymentAggregate, now time.Time) error
	// MarkInvoicesPaid flags unpaid invoices of the booking covered by
	// completed intents and returns how many changed.
	MarkInvoicesPaid(ctx context.Context, bookingID int64, now time.Time) (int64, error)
	// CancelUnpaid cancels a pending_payment booking without completed
	// intents and reports whether this call changed it.
	CancelUnpaid(ctx context.Context, bookingID int64, reason string, now time.Time) (bool, error)
}

// SyncResult reports what SyncPaymentAggregate changed.
type SyncResult struct {
	BookingID     int64
	PaidAmount    decimal.Decimal
	PaymentStatus bookingmodel.PaymentStatus
	Changed       bool
	Confirmed     bool
}

type ServiceAPI interface {
	MarkBookingPaymentCompleted(ctx context.Context, bookingID int64, actorID string) error
	SyncPaymentAggregate(ctx context.Context, bookingID int64) (*SyncResult, error)
	CancelUnpaid(ctx context.Context, bookingID int64, reason string) (bool, error)
}
