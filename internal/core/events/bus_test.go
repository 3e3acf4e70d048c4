package events_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/autoservice-payments/internal/core/events"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ = Describe("EventBus", func() {
	var (
		bus *events.EventBus
		out *syncBuffer
		ctx context.Context
	)

	BeforeEach(func() {
		out = &syncBuffer{}
		bus = events.NewEventBus(slog.New(slog.NewJSONHandler(out, nil)))
		ctx = context.Background()
	})

	It("delivers to every subscriber and Wait blocks until they finish", func() {
		// Given
		var calls atomic.Int32
		for i := 0; i < 3; i++ {
			bus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, e events.Event) error {
				time.Sleep(10 * time.Millisecond)
				calls.Add(1)
				return nil
			})
		}

		// When
		event := events.NewPaymentCompletedEvent("PI-1", 1, 2, 3, "PAY-1", "VNP-1", "500000", "VND", "vnpay", "gateway:vnpay")
		Expect(bus.Publish(ctx, event)).To(Succeed())
		Expect(bus.Wait(ctx)).To(Succeed())

		// Then
		Expect(calls.Load()).To(Equal(int32(3)))
		Expect(bus.HandlerCount(events.EventTypePaymentCompleted)).To(Equal(3))
	})

	It("hands handlers a context that survives the publisher's cancellation", func() {
		var handlerErr atomic.Value
		bus.Subscribe(events.EventTypePaymentFailed, func(ctx context.Context, e events.Event) error {
			time.Sleep(10 * time.Millisecond)
			handlerErr.Store(ctx.Err() == nil)
			return nil
		})

		reqCtx, cancel := context.WithCancel(ctx)
		Expect(bus.Publish(reqCtx, events.NewPaymentFailedEvent("PI-1", 2, "vnpay", "24"))).To(Succeed())
		cancel()

		Expect(bus.Wait(ctx)).To(Succeed())
		Expect(handlerErr.Load()).To(Equal(true))
	})

	It("contains a panicking handler", func() {
		bus.Subscribe(events.EventTypeIntentExpired, func(ctx context.Context, e events.Event) error {
			panic("boom")
		})

		Expect(bus.Publish(ctx, events.NewIntentExpiredEvent("PI-1", 2, "expired"))).To(Succeed())
		Expect(bus.Wait(ctx)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("event handler panicked"))
	})

	It("returns the first handler error on PublishSync", func() {
		bus.Subscribe(events.EventTypeIntentCancelled, func(ctx context.Context, e events.Event) error {
			return errors.New("downstream rejected")
		})

		err := bus.PublishSync(ctx, events.NewIntentCancelledEvent("PI-1", 2, "booking cancelled"))
		Expect(err).To(MatchError(ContainSubstring("downstream rejected")))
	})

	It("ignores events nobody subscribed to", func() {
		Expect(bus.Publish(ctx, events.NewBookingAutoCancelledEvent(2, "BK-2", "stale"))).To(Succeed())
		Expect(bus.Wait(ctx)).To(Succeed())
	})

	Describe("RegisterAuditLog", func() {
		It("logs every lifecycle event with its type and id", func() {
			// Given
			events.RegisterAuditLog(bus, slog.New(slog.NewJSONHandler(out, nil)))

			// When
			event := events.NewBookingAutoCancelledEvent(2, "BK-2002", "auto-cancelled")
			Expect(bus.Publish(ctx, event)).To(Succeed())
			Expect(bus.Wait(ctx)).To(Succeed())

			// Then
			logged := out.String()
			Expect(logged).To(ContainSubstring(`"component":"audit"`))
			Expect(logged).To(ContainSubstring(events.EventTypeBookingAutoCancelled))
			Expect(logged).To(ContainSubstring(event.EventID()))
			for _, t := range events.AuditedEventTypes {
				Expect(bus.HandlerCount(t)).To(Equal(1))
			}
		})
	})
})
