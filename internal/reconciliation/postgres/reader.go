package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/autoservice-payments/internal/reconciliation"
)

const staleUnpaidBookingsQuery = `
SELECT b.id, b.code
FROM bookings b
WHERE b.status = ?
  AND b.payment_status = ?
  AND b.created_at < ?
  AND b.id > ?
  AND NOT EXISTS (
    SELECT 1 FROM payment_intents i
    WHERE i.booking_id = b.id AND i.status = ?
  )
ORDER BY b.id
LIMIT ?`

// A booking drifts when its stored aggregate disagrees with the sum of its
// completed intents, or when it is fully paid but still unconfirmed.
const driftedBookingsQuery = `
SELECT b.id
FROM bookings b
LEFT JOIN (
  SELECT booking_id, SUM(amount) AS total
  FROM payment_intents
  WHERE status = ?
  GROUP BY booking_id
) p ON p.booking_id = b.id
WHERE b.id > ?
  AND (
    COALESCE(p.total, 0) <> b.paid_amount
    OR (b.payment_status = ? AND COALESCE(p.total, 0) < b.required_amount)
    OR (b.payment_status = ? AND COALESCE(p.total, 0) > 0 AND COALESCE(p.total, 0) >= b.required_amount)
    OR (b.status = ? AND b.payment_status = ?)
  )
ORDER BY b.id
LIMIT ?`

type Reader struct {
	db *sqlx.DB
}

func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db}
}

var _ reconciliation.Reader = (*Reader)(nil)

func (r *Reader) StaleUnpaidBookings(ctx context.Context, createdBefore time.Time, afterID int64, limit int) ([]reconciliation.StaleBooking, error) {
	var rows []reconciliation.StaleBooking
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(staleUnpaidBookingsQuery),
		bookingmodel.StatusPendingPayment,
		bookingmodel.PaymentStatusPending,
		createdBefore,
		afterID,
		paymentmodel.IntentStatusCompleted,
		limit,
	)
	return rows, err
}

func (r *Reader) DriftedBookings(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(driftedBookingsQuery),
		paymentmodel.IntentStatusCompleted,
		afterID,
		bookingmodel.PaymentStatusCompleted,
		bookingmodel.PaymentStatusPending,
		bookingmodel.StatusPendingPayment,
		bookingmodel.PaymentStatusCompleted,
		limit,
	)
	return ids, err
}
