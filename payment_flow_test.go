package main_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/autoservice-payments/internal/booking"
	bookingpostgres "github.com/frahmantamala/autoservice-payments/internal/booking/postgres"
	"github.com/frahmantamala/autoservice-payments/internal/completion"
	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/autoservice-payments/internal/core/events"
	"github.com/frahmantamala/autoservice-payments/internal/payment"
	paymentpostgres "github.com/frahmantamala/autoservice-payments/internal/payment/postgres"
	"github.com/frahmantamala/autoservice-payments/internal/paymentgateway"
	"github.com/frahmantamala/autoservice-payments/internal/reconciliation"
	reconpostgres "github.com/frahmantamala/autoservice-payments/internal/reconciliation/postgres"
	"github.com/frahmantamala/autoservice-payments/internal/transport"
	"github.com/frahmantamala/autoservice-payments/internal/transport/rest"
)

var _ = Describe("Payment completion flow", func() {
	var (
		db        *gorm.DB
		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		now       time.Time
		clockMu   sync.Mutex
		router    *chi.Mux
		queue     *completion.Queue
		bus       *events.EventBus
		verifier  *paymentgateway.Verifier
		payRepo   payment.RepositoryAPI
		bookings  *booking.Service
		scheduler *reconciliation.Scheduler
	)

	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}

	lg := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	addBooking := func(code string, amount int64, age time.Duration) (*bookingmodel.Booking, *bookingmodel.Invoice) {
		created := clock().Add(-age)
		b := &bookingmodel.Booking{
			Code:           code,
			CustomerID:     1,
			Status:         bookingmodel.StatusPendingPayment,
			PaymentStatus:  bookingmodel.PaymentStatusPending,
			RequiredAmount: decimal.NewFromInt(amount),
			PaidAmount:     decimal.Zero,
			Currency:       "VND",
			CreatedAt:      created,
			UpdatedAt:      created,
		}
		Expect(db.Create(b).Error).To(Succeed())
		inv := &bookingmodel.Invoice{
			Code:      "INV-" + code,
			BookingID: b.ID,
			Total:     decimal.NewFromInt(amount),
			Currency:  "VND",
			Status:    bookingmodel.InvoiceStatusUnpaid,
		}
		Expect(db.Create(inv).Error).To(Succeed())
		return b, inv
	}

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	ipn := func(intentCode string, success bool, ref string) payment.Ack {
		intent, err := payRepo.GetIntentByCode(ctx, intentCode)
		Expect(err).ToNot(HaveOccurred())
		params, err := verifier.Simulate(intent, success, ref)
		Expect(err).ToNot(HaveOccurred())

		w := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/ipn?"+params.Encode(), nil))
		Expect(w.Code).To(Equal(http.StatusOK))

		var ack payment.Ack
		Expect(json.NewDecoder(w.Body).Decode(&ack)).To(Succeed())
		return ack
	}

	reload := func(id int64) *bookingmodel.Booking {
		var b bookingmodel.Booking
		Expect(db.First(&b, id).Error).To(Succeed())
		return &b
	}

	countPayments := func() int64 {
		var n int64
		Expect(db.Model(&paymentmodel.Payment{}).Count(&n).Error).To(Succeed())
		return n
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		Expect(err).ToNot(HaveOccurred())

		sqlDB, err := db.DB()
		Expect(err).ToNot(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(
			&bookingmodel.Booking{},
			&bookingmodel.Invoice{},
			&paymentmodel.PaymentIntent{},
			&paymentmodel.Payment{},
			&paymentmodel.CallbackLog{},
		)).To(Succeed())

		bus = events.NewEventBus(lg)
		events.RegisterAuditLog(bus, lg)
		queue = completion.NewQueue(16, lg)

		payRepo = paymentpostgres.NewPaymentRepository(db)
		verifier = paymentgateway.NewVerifier(paymentgateway.NewRegistry(
			paymentgateway.NewVNPay(paymentgateway.VNPayConfig{TmnCode: "AUTOSVC1", HashSecret: "flow-secret"}),
		), payRepo, lg)
		payments := payment.NewService(payRepo, verifier, queue, bus, payment.Config{
			IntentExpiry: time.Hour,
		}, lg).WithClock(clock)

		bookings = booking.NewService(bookingpostgres.NewBookingRepository(db), lg)

		worker := completion.NewWorker(queue, bookings, completion.WorkerConfig{
			MaxRetries:  3,
			BackoffUnit: 10 * time.Millisecond,
		}, lg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()

		scheduler = reconciliation.NewScheduler(
			reconpostgres.NewReader(sqlx.NewDb(sqlDB, "sqlite3")),
			bookings, payments, bus,
			reconciliation.Config{StaleBookingCutoff: 48 * time.Hour, BatchSize: 10},
			lg).WithClock(clock)

		router = chi.NewRouter()
		rest.RegisterAllRoutes(router, sqlDB, queue,
			payment.NewHandler(payments, lg),
			payment.NewWebhookHandler(transport.NewBaseHandler(lg), payments, "", lg),
			rest.RouteOptions{OpenAPIFile: "./api/openapi.yml"},
			lg)
	})

	AfterEach(func() {
		cancel()
		queue.Close()
		wg.Wait()
		_ = bus.Wait(context.Background())
	})

	It("completes a booking once even when the gateway replays the notification", func() {
		// Given
		b, inv := addBooking("BK-1001", 500000, time.Hour)
		body := `{"code":"PI-1001","booking_id":` + itoa(b.ID) + `,"invoice_id":` + itoa(inv.ID) + `,"amount":"500000","gateway":"vnpay"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payment-intents", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		Expect(serve(req).Code).To(Equal(http.StatusCreated))

		// When
		first := ipn("PI-1001", true, "VNP-14000001")
		advance(5 * time.Second)
		replay := ipn("PI-1001", true, "VNP-14000001")

		// Then
		Expect(first.RspCode).To(Equal("00"))
		Expect(replay.RspCode).To(Equal("00"))
		Expect(countPayments()).To(Equal(int64(1)))

		Eventually(func() bookingmodel.PaymentStatus {
			return reload(b.ID).PaymentStatus
		}, 2*time.Second, 20*time.Millisecond).Should(Equal(bookingmodel.PaymentStatusCompleted))

		paid := reload(b.ID)
		Expect(paid.Status).To(Equal(bookingmodel.StatusConfirmed))
		Expect(paid.PaidAmount.Equal(decimal.NewFromInt(500000))).To(BeTrue())

		var invoice bookingmodel.Invoice
		Expect(db.First(&invoice, inv.ID).Error).To(Succeed())
		Expect(invoice.Status).To(Equal(bookingmodel.InvoiceStatusPaid))

		w := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payment-intents/PI-1001", nil))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"status":"completed"`))
		Expect(w.Body.String()).To(ContainSubstring("VNP-14000001"))
	})

	It("auto-cancels a stale unpaid booking and closes its pending intent", func() {
		// Given
		stale, inv := addBooking("BK-2002", 750000, 49*time.Hour)
		fresh, _ := addBooking("BK-2003", 750000, time.Hour)
		Expect(db.Create(&paymentmodel.PaymentIntent{
			Code:      "PI-2002",
			BookingID: stale.ID,
			InvoiceID: inv.ID,
			Amount:    decimal.NewFromInt(750000),
			Currency:  "VND",
			Gateway:   "vnpay",
			Status:    paymentmodel.IntentStatusPending,
			ExpiresAt: clock().Add(time.Hour),
		}).Error).To(Succeed())

		// When
		report := scheduler.RunCycle(ctx)

		// Then
		Expect(report.Pass(reconciliation.PassStaleBookings).Changed).To(Equal(1))

		cancelled := reload(stale.ID)
		Expect(cancelled.Status).To(Equal(bookingmodel.StatusCancelled))
		Expect(cancelled.CancellationReason).ToNot(BeNil())
		Expect(*cancelled.CancellationReason).To(Equal(booking.AutoCancelReason(48 * time.Hour)))
		Expect(*cancelled.CancellationReason).To(ContainSubstring("48 hours"))

		intent, err := payRepo.GetIntentByCode(ctx, "PI-2002")
		Expect(err).ToNot(HaveOccurred())
		Expect(intent.Status).To(Equal(paymentmodel.IntentStatusCancelled))

		Expect(reload(fresh.ID).Status).To(Equal(bookingmodel.StatusPendingPayment))
	})

	It("repairs a booking whose completion job never ran", func() {
		// Given
		b, inv := addBooking("BK-3003", 300000, time.Hour)
		Expect(db.Create(&paymentmodel.PaymentIntent{
			Code:      "PI-3003",
			BookingID: b.ID,
			InvoiceID: inv.ID,
			Amount:    decimal.NewFromInt(300000),
			Currency:  "VND",
			Gateway:   "vnpay",
			Status:    paymentmodel.IntentStatusCompleted,
			ExpiresAt: clock().Add(time.Hour),
		}).Error).To(Succeed())

		// When
		report := scheduler.RunCycle(ctx)

		// Then
		Expect(report.Pass(reconciliation.PassResync).Changed).To(Equal(1))
		repaired := reload(b.ID)
		Expect(repaired.PaymentStatus).To(Equal(bookingmodel.PaymentStatusCompleted))
		Expect(repaired.Status).To(Equal(bookingmodel.StatusConfirmed))
	})
})

func itoa(n int64) string {
	return decimal.NewFromInt(n).String()
}
