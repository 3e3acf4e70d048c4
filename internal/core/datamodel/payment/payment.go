package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusCompleted IntentStatus = "completed"
	IntentStatusFailed    IntentStatus = "failed"
	IntentStatusCancelled IntentStatus = "cancelled"
	IntentStatusExpired   IntentStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s IntentStatus) IsTerminal() bool {
	return s != IntentStatusPending
}

func (s IntentStatus) String() string {
	return string(s)
}

const PaymentStatusCompleted = "completed"

type PaymentIntent struct {
	ID          int64           `gorm:"primaryKey"`
	Code        string          `gorm:"column:code;not null;uniqueIndex"`
	BookingID   int64           `gorm:"column:booking_id;not null;index"`
	InvoiceID   int64           `gorm:"column:invoice_id;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency    string          `gorm:"column:currency;not null;default:VND"`
	Gateway     string          `gorm:"column:gateway;not null"`
	Status      IntentStatus    `gorm:"column:status;not null;default:pending;index"`
	ExpiresAt   time.Time       `gorm:"column:expires_at;not null"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// IsExpiredAt reports whether a pending intent can no longer be completed at now.
func (p *PaymentIntent) IsExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

type Payment struct {
	ID              int64           `gorm:"primaryKey"`
	Code            string          `gorm:"column:code;not null;uniqueIndex"`
	InvoiceID       int64           `gorm:"column:invoice_id;not null;index"`
	IntentID        int64           `gorm:"column:intent_id;not null;index"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency        string          `gorm:"column:currency;not null"`
	Gateway         string          `gorm:"column:gateway;not null"`
	ExternalRef     string          `gorm:"column:external_ref;not null;uniqueIndex"`
	Status          string          `gorm:"column:status;not null;default:completed"`
	ProcessedBy     string          `gorm:"column:processed_by"`
	ProcessedAt     time.Time       `gorm:"column:processed_at;not null"`
	GatewayResponse datatypes.JSON  `gorm:"column:gateway_response"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
}

func (Payment) TableName() string {
	return "payments"
}

type CallbackChannel string

const (
	ChannelReturn CallbackChannel = "return"
	ChannelIPN    CallbackChannel = "ipn"
	ChannelMock   CallbackChannel = "mock"
)

type CallbackLog struct {
	ID           int64           `gorm:"primaryKey"`
	Gateway      string          `gorm:"column:gateway;not null"`
	Channel      CallbackChannel `gorm:"column:channel;not null"`
	IntentCode   string          `gorm:"column:intent_code;index"`
	Result       string          `gorm:"column:result;not null"`
	ResponseCode string          `gorm:"column:response_code"`
	Payload      datatypes.JSON  `gorm:"column:payload"`
	ReceivedAt   time.Time       `gorm:"column:received_at;not null"`
}

func (CallbackLog) TableName() string {
	return "payment_callback_logs"
}
