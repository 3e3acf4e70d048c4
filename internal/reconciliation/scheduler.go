package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/booking"
	"github.com/frahmantamala/autoservice-payments/internal/core/events"
	"github.com/frahmantamala/autoservice-payments/internal/metrics"
)

// ActorID attributes reconciler changes in logs and events.
const ActorID = "system:reconciler"

type Config struct {
	Interval           time.Duration
	InitialDelay       time.Duration
	StaleBookingCutoff time.Duration
	BatchSize          int
}

// Scheduler periodically repairs drift between payment records and booking
// state. Each pass is guarded so one failing pass never skips the others.
type Scheduler struct {
	reader   Reader
	bookings BookingService
	intents  IntentService
	events   EventPublisher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(reader Reader, bookings BookingService, intents IntentService, publisher EventPublisher, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = internal.DefaultReconcileInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.StaleBookingCutoff <= 0 {
		cfg.StaleBookingCutoff = internal.DefaultStaleBookingCutoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = internal.DefaultReconcileBatchSize
	}
	return &Scheduler{
		reader:   reader,
		bookings: bookings,
		intents:  intents,
		events:   publisher,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run waits InitialDelay, runs a cycle, then one cycle per Interval until ctx
// is cancelled. Cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reconciliation scheduler started",
		"initial_delay", s.cfg.InitialDelay,
		"interval", s.cfg.Interval,
		"stale_booking_cutoff", s.cfg.StaleBookingCutoff)
	defer s.logger.Info("reconciliation scheduler stopped")

	if s.cfg.InitialDelay > 0 {
		timer := time.NewTimer(s.cfg.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle runs the stale-booking, intent-expiry and resync passes in order.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: s.now()}
	start := time.Now()
	ctx = internal.ContextWithActor(ctx, ActorID)

	passes := []struct {
		name string
		run  func(ctx context.Context, pr *PassReport) error
	}{
		{PassStaleBookings, s.cancelStaleBookings},
		{PassIntentExpiry, s.expireIntents},
		{PassResync, s.resyncPaidAmounts},
	}

	for _, p := range passes {
		if ctx.Err() != nil {
			break
		}
		report.Passes = append(report.Passes, s.runPass(ctx, p.name, p.run))
	}

	report.Duration = time.Since(start)
	s.logger.Info("reconciliation cycle finished", "duration", report.Duration, "passes", len(report.Passes))
	return report
}

func (s *Scheduler) runPass(ctx context.Context, name string, run func(context.Context, *PassReport) error) (pr PassReport) {
	pr.Name = name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reconciliation pass panicked", "pass", name, "panic", r, "stack", string(debug.Stack()))
			pr.Err = fmt.Errorf("panic: %v", r)
		}
		pr.Duration = time.Since(start)

		metrics.ReconciliationItems(name, "changed", pr.Changed)
		metrics.ReconciliationItems(name, "failed", pr.Failed)
		if pr.Err != nil {
			metrics.ReconciliationPassFailed(name)
			s.logger.Error("reconciliation pass failed", "pass", name, "error", pr.Err, "examined", pr.Examined, "changed", pr.Changed)
			return
		}
		s.logger.Info("reconciliation pass finished",
			"pass", name,
			"examined", pr.Examined,
			"changed", pr.Changed,
			"failed", pr.Failed,
			"duration", pr.Duration)
	}()

	pr.Err = run(ctx, &pr)
	return pr
}

func (s *Scheduler) cancelStaleBookings(ctx context.Context, pr *PassReport) error {
	cutoff := s.now().Add(-s.cfg.StaleBookingCutoff)
	reason := booking.AutoCancelReason(s.cfg.StaleBookingCutoff)

	var afterID int64
	for {
		batch, err := s.reader.StaleUnpaidBookings(ctx, cutoff, afterID, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("find stale bookings: %w", err)
		}

		for _, b := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			afterID = b.ID
			pr.Examined++

			cancelled, err := s.bookings.CancelUnpaid(ctx, b.ID, reason)
			if err != nil {
				pr.Failed++
				s.logger.Error("failed to cancel stale booking", "error", err, "booking_id", b.ID)
				continue
			}
			if !cancelled {
				continue
			}
			pr.Changed++

			if _, err := s.intents.CancelPendingIntents(ctx, b.ID, reason); err != nil {
				s.logger.Error("failed to cancel intents of stale booking", "error", err, "booking_id", b.ID)
			}

			s.logger.Info("stale booking auto-cancelled", "booking_id", b.ID, "booking_code", b.Code)
			s.publish(ctx, events.NewBookingAutoCancelledEvent(b.ID, b.Code, reason))
		}

		if len(batch) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *Scheduler) expireIntents(ctx context.Context, pr *PassReport) error {
	for {
		n, err := s.intents.ExpireStaleIntents(ctx, s.cfg.BatchSize)
		pr.Examined += n
		pr.Changed += n
		if err != nil {
			return fmt.Errorf("expire intents: %w", err)
		}
		if n < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *Scheduler) resyncPaidAmounts(ctx context.Context, pr *PassReport) error {
	var afterID int64
	for {
		ids, err := s.reader.DriftedBookings(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("find drifted bookings: %w", err)
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			afterID = id
			pr.Examined++

			result, err := s.bookings.SyncPaymentAggregate(ctx, id)
			if err != nil {
				pr.Failed++
				s.logger.Error("failed to resync booking", "error", err, "booking_id", id)
				continue
			}
			if result.Changed {
				pr.Changed++
				s.logger.Info("booking payment aggregate resynced",
					"booking_id", id,
					"paid_amount", result.PaidAmount.String(),
					"payment_status", result.PaymentStatus)
			}
		}

		if len(ids) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
