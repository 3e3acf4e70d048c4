package payment

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/core/common/validation"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
)

// CreateIntentRequest is the checkout payload for POST /payment-intents.
type CreateIntentRequest struct {
	Code      string     `json:"code,omitempty"`
	BookingID int64      `json:"booking_id"`
	InvoiceID int64      `json:"invoice_id"`
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency,omitempty"`
	Gateway   string     `json:"gateway"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r *CreateIntentRequest) Validate() error {
	return r.ValidateAt(time.Now().UTC())
}

// ValidateAt validates the request with now as the reference for expires_at.
func (r *CreateIntentRequest) ValidateAt(now time.Time) error {
	validator := validation.NewValidator()

	validator.Field("booking_id", r.BookingID).Required().MinInt(1, internal.ErrCodeValidationFailed)
	validator.Field("invoice_id", r.InvoiceID).Required().MinInt(1, internal.ErrCodeValidationFailed)
	validator.Field("amount", r.Amount).Required().PositiveDecimal(internal.ErrCodeInvalidAmount)
	validator.Field("gateway", r.Gateway).Required().OneOf(internal.ErrCodeUnsupportedGateway, gatewaytypes.GatewayVNPay, gatewaytypes.GatewayMoMo)
	validator.Field("currency", r.Currency).MaxLength(3)
	if r.Code != "" {
		validator.Field("code", r.Code).Custom(func(value interface{}) *internal.AppError {
			return validation.ValidateIntentCode(r.Code)
		})
	}
	if r.ExpiresAt != nil {
		validator.Field("expires_at", r.ExpiresAt.UTC()).FutureOf(now, internal.ErrCodeInvalidExpiry)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (r *CreateIntentRequest) AmountDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(r.Amount)
	return d
}

type IntentDetail struct {
	Intent  *paymentmodel.PaymentIntent
	Payment *paymentmodel.Payment
}

type PaymentResponse struct {
	Code        string    `json:"code"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	ExternalRef string    `json:"external_ref"`
	ProcessedBy string    `json:"processed_by"`
	ProcessedAt time.Time `json:"processed_at"`
}

type IntentResponse struct {
	Code        string           `json:"code"`
	BookingID   int64            `json:"booking_id"`
	InvoiceID   int64            `json:"invoice_id"`
	Amount      string           `json:"amount"`
	Currency    string           `json:"currency"`
	Gateway     string           `json:"gateway"`
	Status      string           `json:"status"`
	ExpiresAt   time.Time        `json:"expires_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Payment     *PaymentResponse `json:"payment,omitempty"`
}

func NewIntentResponse(intent *paymentmodel.PaymentIntent, p *paymentmodel.Payment) *IntentResponse {
	resp := &IntentResponse{
		Code:        intent.Code,
		BookingID:   intent.BookingID,
		InvoiceID:   intent.InvoiceID,
		Amount:      intent.Amount.StringFixed(2),
		Currency:    intent.Currency,
		Gateway:     intent.Gateway,
		Status:      intent.Status.String(),
		ExpiresAt:   intent.ExpiresAt,
		CompletedAt: intent.CompletedAt,
		CreatedAt:   intent.CreatedAt,
	}
	if p != nil {
		resp.Payment = &PaymentResponse{
			Code:        p.Code,
			Amount:      p.Amount.StringFixed(2),
			Currency:    p.Currency,
			ExternalRef: p.ExternalRef,
			ProcessedBy: p.ProcessedBy,
			ProcessedAt: p.ProcessedAt,
		}
	}
	return resp
}

// MockCompleteRequest drives the mock gateway endpoint.
type MockCompleteRequest struct {
	Status string `json:"status"`
}

func (r *MockCompleteRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("status", r.Status).Required().OneOf(internal.ErrCodeValidationFailed, "success", "failed")
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (r *MockCompleteRequest) Success() bool {
	return strings.EqualFold(r.Status, "success")
}

// Ack is the server-to-server acknowledgement body gateways expect.
type Ack struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var (
	AckConfirmSuccess   = Ack{RspCode: "00", Message: "Confirm Success"}
	AckOrderNotFound    = Ack{RspCode: "01", Message: "Order not found"}
	AckInvalidAmount    = Ack{RspCode: "01", Message: "Invalid amount"}
	AckPaymentFailed    = Ack{RspCode: "02", Message: "Payment failed"}
	AckAlreadyConfirmed = Ack{RspCode: "02", Message: "Order already confirmed"}
	AckIntentExpired    = Ack{RspCode: "02", Message: "Payment intent expired"}
	AckInvalidChecksum  = Ack{RspCode: "97", Message: "Invalid Checksum"}
	AckUnknownError     = Ack{RspCode: "99", Message: "Unknown error"}
	AckUnsupportedRoute = Ack{RspCode: "99", Message: "Unsupported gateway"}
)

// AckFor maps a processed callback to the gateway acknowledgement. Any error
// becomes 99 so internal details never reach the gateway.
func AckFor(report *CallbackReport, err error) Ack {
	if err != nil {
		if errors.Is(err, internal.ErrUnsupportedGateway) {
			return AckUnsupportedRoute
		}
		return AckUnknownError
	}
	if report == nil {
		return AckUnknownError
	}

	switch report.Result {
	case gatewaytypes.ResultInvalidSignature:
		return AckInvalidChecksum
	case gatewaytypes.ResultPaymentNotFound:
		return AckOrderNotFound
	case gatewaytypes.ResultInvalidAmount:
		return AckInvalidAmount
	}

	if report.Conflict {
		return AckAlreadyConfirmed
	}

	switch report.FinalStatus {
	case paymentmodel.IntentStatusCompleted:
		return AckConfirmSuccess
	case paymentmodel.IntentStatusExpired:
		return AckIntentExpired
	case paymentmodel.IntentStatusFailed, paymentmodel.IntentStatusCancelled:
		return AckPaymentFailed
	}
	return AckUnknownError
}

// ReturnSummary is rendered on the return URL when no frontend is configured.
type ReturnSummary struct {
	PaymentCode string `json:"paymentCode"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	Message     string `json:"message"`
}
