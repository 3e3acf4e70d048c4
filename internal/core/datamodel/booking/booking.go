package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusCancelled      Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
)

type Booking struct {
	ID                 int64           `gorm:"primaryKey"`
	Code               string          `gorm:"column:code;not null;uniqueIndex"`
	CustomerID         int64           `gorm:"column:customer_id;not null"`
	Status             Status          `gorm:"column:status;not null;default:pending_payment;index"`
	PaymentStatus      PaymentStatus   `gorm:"column:payment_status;not null;default:pending"`
	RequiredAmount     decimal.Decimal `gorm:"column:required_amount;type:numeric(18,2);not null"`
	PaidAmount         decimal.Decimal `gorm:"column:paid_amount;type:numeric(18,2);not null;default:0"`
	Currency           string          `gorm:"column:currency;not null;default:VND"`
	CancellationReason *string         `gorm:"column:cancellation_reason"`
	PaidAt             *time.Time      `gorm:"column:paid_at"`
	CancelledAt        *time.Time      `gorm:"column:cancelled_at"`
	CreatedAt          time.Time       `gorm:"column:created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

type InvoiceStatus string

const (
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	InvoiceStatusPaid   InvoiceStatus = "paid"
)

type Invoice struct {
	ID        int64           `gorm:"primaryKey"`
	Code      string          `gorm:"column:code;not null;uniqueIndex"`
	BookingID int64           `gorm:"column:booking_id;not null;index"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(18,2);not null"`
	Currency  string          `gorm:"column:currency;not null;default:VND"`
	Status    InvoiceStatus   `gorm:"column:status;not null;default:unpaid"`
	PaidAt    *time.Time      `gorm:"column:paid_at"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}
