package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/frahmantamala/autoservice-payments/internal"
	bookingpostgres "github.com/frahmantamala/autoservice-payments/internal/booking/postgres"
	bookingmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/booking"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	paymentpostgres "github.com/frahmantamala/autoservice-payments/internal/payment/postgres"
)

type seedBooking struct {
	Code       string
	CustomerID int64
	Amount     int64
	Age        time.Duration
	IntentCode string
	Gateway    string
}

// seedBookings covers a fresh booking awaiting payment, one the reconciler
// should auto-cancel, and a MoMo booking for the mock endpoint.
var seedBookings = []seedBooking{
	{Code: "BK-1001", CustomerID: 1, Amount: 500000, Age: 0, IntentCode: "PI-1001", Gateway: "vnpay"},
	{Code: "BK-2002", CustomerID: 2, Amount: 750000, Age: 49 * time.Hour},
	{Code: "BK-3003", CustomerID: 3, Amount: 1200000, Age: time.Hour, IntentCode: "PI-3003", Gateway: "momo"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample bookings, invoices and payment intents for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, sqlxDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlxDB.Close()

		ctx := context.Background()
		if clearData {
			if err := clearSeedData(db); err != nil {
				log.Fatalf("failed to clear data: %v", err)
			}
			fmt.Println("Cleared payment and booking tables")
		}

		if err := seed(ctx, db, time.Now().UTC()); err != nil {
			log.Fatalf("failed to seed: %v", err)
		}
		fmt.Println("Bookings seeded successfully")
	},
}

func clearSeedData(db *gorm.DB) error {
	for _, table := range []string{"payment_callback_logs", "payments", "payment_intents", "invoices", "bookings"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func seed(ctx context.Context, db *gorm.DB, now time.Time) error {
	bookings := bookingpostgres.NewBookingRepository(db)
	payments := paymentpostgres.NewPaymentRepository(db)

	for _, s := range seedBookings {
		if _, err := bookings.GetByCode(ctx, s.Code); err == nil {
			fmt.Printf("booking %s already exists; skipping\n", s.Code)
			continue
		} else if !errors.Is(err, internal.ErrBookingNotFound) {
			return err
		}

		createdAt := now.Add(-s.Age)
		amount := decimal.NewFromInt(s.Amount)

		b := &bookingmodel.Booking{
			Code:           s.Code,
			CustomerID:     s.CustomerID,
			Status:         bookingmodel.StatusPendingPayment,
			PaymentStatus:  bookingmodel.PaymentStatusPending,
			RequiredAmount: amount,
			PaidAmount:     decimal.Zero,
			Currency:       "VND",
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
		if err := bookings.Create(ctx, b); err != nil {
			return fmt.Errorf("insert booking %s: %w", s.Code, err)
		}

		inv := &bookingmodel.Invoice{
			Code:      "INV-" + s.Code[3:],
			BookingID: b.ID,
			Total:     amount,
			Currency:  "VND",
			Status:    bookingmodel.InvoiceStatusUnpaid,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		if err := bookings.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("insert invoice for %s: %w", s.Code, err)
		}

		if s.IntentCode != "" {
			intent := &paymentmodel.PaymentIntent{
				Code:      s.IntentCode,
				BookingID: b.ID,
				InvoiceID: inv.ID,
				Amount:    amount,
				Currency:  "VND",
				Gateway:   s.Gateway,
				Status:    paymentmodel.IntentStatusPending,
				ExpiresAt: now.Add(time.Hour),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := payments.CreateIntent(ctx, intent); err != nil && !errors.Is(err, internal.ErrIntentExists) {
				return fmt.Errorf("insert intent %s: %w", s.IntentCode, err)
			}
		}

		fmt.Printf("Seeded booking %s (%s VND)\n", s.Code, amount.String())
	}
	return nil
}
