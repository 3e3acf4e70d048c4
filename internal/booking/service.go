package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/autoservice-payments/pkg/logger"
)

// Service is the in-database booking collaborator. Aggregates are always
// recomputed from completed intents so repeated calls converge.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, lg *slog.Logger) *Service {
	if lg == nil {
		lg = logger.LoggerWrapper()
	}
	return &Service{
		repo:   repo,
		logger: lg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) MarkBookingPaymentCompleted(ctx context.Context, bookingID int64, actorID string) error {
	result, err := s.SyncPaymentAggregate(ctx, bookingID)
	if err != nil {
		return err
	}

	s.logger.Info("booking payment completion applied",
		"booking_id", bookingID,
		"actor", actorID,
		"paid_amount", result.PaidAmount.String(),
		"payment_status", result.PaymentStatus,
		"changed", result.Changed)
	return nil
}

func (s *Service) SyncPaymentAggregate(ctx context.Context, bookingID int64) (*SyncResult, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.CompletedTotal(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("sum completed intents for booking %d: %w", bookingID, err)
	}

	now := s.now()
	agg := PaymentAggregate{
		PaidAmount:    total,
		PaymentStatus: bookingmodel.PaymentStatusPending,
		PaidAt:        b.PaidAt,
	}

	switch {
	case total.GreaterThanOrEqual(b.RequiredAmount):
		agg.PaymentStatus = bookingmodel.PaymentStatusCompleted
		agg.Confirm = b.Status == bookingmodel.StatusPendingPayment
		if agg.PaidAt == nil {
			agg.PaidAt = &now
		}
		if total.GreaterThan(b.RequiredAmount) {
			s.logger.Warn("booking overpaid",
				"booking_id", bookingID,
				"required_amount", b.RequiredAmount.String(),
				"paid_amount", total.String())
		}
	case total.IsPositive():
		agg.PaidAt = nil
		s.logger.Warn("booking partially paid",
			"booking_id", bookingID,
			"required_amount", b.RequiredAmount.String(),
			"paid_amount", total.String())
	default:
		agg.PaidAt = nil
	}

	if b.Status == bookingmodel.StatusCancelled && agg.PaymentStatus == bookingmodel.PaymentStatusCompleted {
		s.logger.Warn("payment completed for cancelled booking",
			"booking_id", bookingID,
			"paid_amount", total.String())
	}

	result := &SyncResult{
		BookingID:     bookingID,
		PaidAmount:    total,
		PaymentStatus: agg.PaymentStatus,
		Confirmed:     agg.Confirm,
	}

	if !b.PaidAmount.Equal(total) || b.PaymentStatus != agg.PaymentStatus || agg.Confirm {
		if err := s.repo.ApplyPaymentAggregate(ctx, bookingID, agg, now); err != nil {
			return nil, fmt.Errorf("update payment aggregate for booking %d: %w", bookingID, err)
		}
		result.Changed = true
	}

	paid, err := s.repo.MarkInvoicesPaid(ctx, bookingID, now)
	if err != nil {
		return nil, fmt.Errorf("mark invoices paid for booking %d: %w", bookingID, err)
	}
	if paid > 0 {
		result.Changed = true
	}

	return result, nil
}

func (s *Service) CancelUnpaid(ctx context.Context, bookingID int64, reason string) (bool, error) {
	cancelled, err := s.repo.CancelUnpaid(ctx, bookingID, reason, s.now())
	if err != nil {
		return false, fmt.Errorf("cancel booking %d: %w", bookingID, err)
	}
	if cancelled {
		s.logger.Info("booking cancelled", "booking_id", bookingID, "reason", reason)
	}
	return cancelled, nil
}
