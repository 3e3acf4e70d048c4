package booking_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/booking"
	bookingpostgres "github.com/frahmantamala/autoservice-payments/internal/booking/postgres"
	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
)

var _ = Describe("Booking Service", func() {
	var (
		db      *gorm.DB
		repo    *bookingpostgres.BookingRepository
		service *booking.Service
		ctx     context.Context
		b       *bookingmodel.Booking
		invoice *bookingmodel.Invoice
	)

	complete := func(code string, amount int64) {
		intent := &paymentmodel.PaymentIntent{
			Code:      code,
			BookingID: b.ID,
			InvoiceID: invoice.ID,
			Amount:    decimal.NewFromInt(amount),
			Currency:  "VND",
			Gateway:   "vnpay",
			Status:    paymentmodel.IntentStatusCompleted,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		Expect(db.Create(intent).Error).ToNot(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&bookingmodel.Booking{}, &bookingmodel.Invoice{}, &paymentmodel.PaymentIntent{})).To(Succeed())

		ctx = context.Background()
		repo = bookingpostgres.NewBookingRepository(db)
		service = booking.NewService(repo, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

		b = &bookingmodel.Booking{
			Code:           "BK-1001",
			CustomerID:     3,
			Status:         bookingmodel.StatusPendingPayment,
			PaymentStatus:  bookingmodel.PaymentStatusPending,
			RequiredAmount: decimal.NewFromInt(500000),
			Currency:       "VND",
		}
		Expect(repo.Create(ctx, b)).To(Succeed())
		invoice = &bookingmodel.Invoice{Code: "INV-1001", BookingID: b.ID, Total: decimal.NewFromInt(500000), Currency: "VND", Status: bookingmodel.InvoiceStatusUnpaid}
		Expect(repo.CreateInvoice(ctx, invoice)).To(Succeed())
	})

	Describe("MarkBookingPaymentCompleted", func() {
		It("should confirm a fully paid booking and its invoice", func() {
			// Given
			complete("PI-1001", 500000)

			// When
			err := service.MarkBookingPaymentCompleted(ctx, b.ID, "gateway:vnpay")

			// Then
			Expect(err).ToNot(HaveOccurred())
			stored, _ := repo.GetByID(ctx, b.ID)
			Expect(stored.Status).To(Equal(bookingmodel.StatusConfirmed))
			Expect(stored.PaymentStatus).To(Equal(bookingmodel.PaymentStatusCompleted))
			Expect(stored.PaidAt).ToNot(BeNil())
			inv, _ := repo.GetInvoice(ctx, invoice.ID)
			Expect(inv.Status).To(Equal(bookingmodel.InvoiceStatusPaid))
		})

		It("should be idempotent", func() {
			// Given
			complete("PI-1001", 500000)
			Expect(service.MarkBookingPaymentCompleted(ctx, b.ID, "gateway:vnpay")).To(Succeed())

			// When
			result, err := service.SyncPaymentAggregate(ctx, b.ID)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Changed).To(BeFalse())
			Expect(result.PaidAmount.Equal(decimal.NewFromInt(500000))).To(BeTrue())
		})

		It("should keep a partially paid booking pending", func() {
			complete("PI-1001", 200000)

			Expect(service.MarkBookingPaymentCompleted(ctx, b.ID, "gateway:vnpay")).To(Succeed())

			stored, _ := repo.GetByID(ctx, b.ID)
			Expect(stored.Status).To(Equal(bookingmodel.StatusPendingPayment))
			Expect(stored.PaymentStatus).To(Equal(bookingmodel.PaymentStatusPending))
			Expect(stored.PaidAmount.Equal(decimal.NewFromInt(200000))).To(BeTrue())
		})

		It("should never un-cancel a booking", func() {
			Expect(db.Model(b).Update("status", bookingmodel.StatusCancelled).Error).ToNot(HaveOccurred())
			complete("PI-1001", 500000)

			Expect(service.MarkBookingPaymentCompleted(ctx, b.ID, "gateway:vnpay")).To(Succeed())

			stored, _ := repo.GetByID(ctx, b.ID)
			Expect(stored.Status).To(Equal(bookingmodel.StatusCancelled))
			Expect(stored.PaymentStatus).To(Equal(bookingmodel.PaymentStatusCompleted))
		})

		It("should fail for an unknown booking", func() {
			err := service.MarkBookingPaymentCompleted(ctx, 999, "gateway:vnpay")

			Expect(err).To(MatchError(internal.ErrBookingNotFound))
		})
	})

	Describe("SyncPaymentAggregate", func() {
		It("should repair a booking marked completed without completed intents", func() {
			// Given
			Expect(db.Model(b).Updates(map[string]interface{}{
				"payment_status": bookingmodel.PaymentStatusCompleted,
				"paid_amount":    decimal.NewFromInt(500000),
			}).Error).ToNot(HaveOccurred())

			// When
			result, err := service.SyncPaymentAggregate(ctx, b.ID)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Changed).To(BeTrue())
			stored, _ := repo.GetByID(ctx, b.ID)
			Expect(stored.PaymentStatus).To(Equal(bookingmodel.PaymentStatusPending))
			Expect(stored.PaidAmount.IsZero()).To(BeTrue())
		})

		It("should complete a booking with nothing to pay", func() {
			// Given
			free := &bookingmodel.Booking{
				Code:           "BK-0000",
				CustomerID:     3,
				Status:         bookingmodel.StatusPendingPayment,
				PaymentStatus:  bookingmodel.PaymentStatusPending,
				RequiredAmount: decimal.Zero,
				Currency:       "VND",
			}
			Expect(repo.Create(ctx, free)).To(Succeed())

			// When
			result, err := service.SyncPaymentAggregate(ctx, free.ID)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(result.PaymentStatus).To(Equal(bookingmodel.PaymentStatusCompleted))
			Expect(result.Confirmed).To(BeTrue())
			stored, _ := repo.GetByID(ctx, free.ID)
			Expect(stored.Status).To(Equal(bookingmodel.StatusConfirmed))
			Expect(stored.PaidAt).ToNot(BeNil())
		})
	})

	Describe("CancelUnpaid", func() {
		It("should cancel with the given reason", func() {
			cancelled, err := service.CancelUnpaid(ctx, b.ID, booking.AutoCancelReason(48*time.Hour))

			Expect(err).ToNot(HaveOccurred())
			Expect(cancelled).To(BeTrue())
			stored, _ := repo.GetByID(ctx, b.ID)
			Expect(*stored.CancellationReason).To(Equal(booking.AutoCancelReason(48*time.Hour)))
		})
	})
})
