package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/booking"
	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

var _ booking.RepositoryAPI = (*BookingRepository)(nil)

func (r *BookingRepository) Create(ctx context.Context, b *bookingmodel.Booking) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BookingRepository) CreateInvoice(ctx context.Context, inv *bookingmodel.Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*bookingmodel.Booking, error) {
	var b bookingmodel.Booking
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) GetByCode(ctx context.Context, code string) (*bookingmodel.Booking, error) {
	var b bookingmodel.Booking
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) GetInvoice(ctx context.Context, id int64) (*bookingmodel.Invoice, error) {
	var inv bookingmodel.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *BookingRepository) CompletedTotal(ctx context.Context, bookingID int64) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&paymentmodel.PaymentIntent{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("booking_id = ? AND status = ?", bookingID, paymentmodel.IntentStatusCompleted).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (r *BookingRepository) ApplyPaymentAggregate(ctx context.Context, bookingID int64, agg booking.PaymentAggregate, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&bookingmodel.Booking{}).
			Where("id = ?", bookingID).
			Updates(map[string]interface{}{
				"paid_amount":    agg.PaidAmount,
				"payment_status": agg.PaymentStatus,
				"paid_at":        agg.PaidAt,
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("update aggregate: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return internal.ErrBookingNotFound
		}

		if !agg.Confirm {
			return nil
		}
		return tx.Model(&bookingmodel.Booking{}).
			Where("id = ? AND status = ?", bookingID, bookingmodel.StatusPendingPayment).
			Updates(map[string]interface{}{
				"status":     bookingmodel.StatusConfirmed,
				"updated_at": now,
			}).Error
	})
}

func (r *BookingRepository) MarkInvoicesPaid(ctx context.Context, bookingID int64, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&bookingmodel.Invoice{}).
		Where("booking_id = ? AND status = ?", bookingID, bookingmodel.InvoiceStatusUnpaid).
		Where("total <= (SELECT COALESCE(SUM(amount), 0) FROM payment_intents WHERE payment_intents.invoice_id = invoices.id AND payment_intents.status = ?)",
			paymentmodel.IntentStatusCompleted).
		Updates(map[string]interface{}{
			"status":     bookingmodel.InvoiceStatusPaid,
			"paid_at":    now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *BookingRepository) CancelUnpaid(ctx context.Context, bookingID int64, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&bookingmodel.Booking{}).
		Where("id = ? AND status = ? AND payment_status = ?",
			bookingID, bookingmodel.StatusPendingPayment, bookingmodel.PaymentStatusPending).
		Where("NOT EXISTS (SELECT 1 FROM payment_intents WHERE payment_intents.booking_id = bookings.id AND payment_intents.status = ?)",
			paymentmodel.IntentStatusCompleted).
		Updates(map[string]interface{}{
			"status":              bookingmodel.StatusCancelled,
			"cancellation_reason": reason,
			"cancelled_at":        now,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
