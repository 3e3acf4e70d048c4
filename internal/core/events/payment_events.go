package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted     = "payment.completed"
	EventTypePaymentFailed        = "payment.failed"
	EventTypeIntentExpired        = "payment_intent.expired"
	EventTypeIntentCancelled      = "payment_intent.cancelled"
	EventTypeBookingAutoCancelled = "booking.auto_cancelled"
)

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	IntentCode  string `json:"intent_code"`
	IntentID    int64  `json:"intent_id"`
	BookingID   int64  `json:"booking_id"`
	InvoiceID   int64  `json:"invoice_id"`
	PaymentCode string `json:"payment_code"`
	ExternalRef string `json:"external_ref"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Gateway     string `json:"gateway"`
	ProcessedBy string `json:"processed_by"`
}

func NewPaymentCompletedEvent(intentCode string, intentID, bookingID, invoiceID int64, paymentCode, externalRef, amount, currency, gateway, processedBy string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: newBase(EventTypePaymentCompleted, map[string]interface{}{
			"intent_code":  intentCode,
			"intent_id":    intentID,
			"booking_id":   bookingID,
			"invoice_id":   invoiceID,
			"payment_code": paymentCode,
			"external_ref": externalRef,
			"amount":       amount,
			"currency":     currency,
			"gateway":      gateway,
			"processed_by": processedBy,
		}),
		IntentCode:  intentCode,
		IntentID:    intentID,
		BookingID:   bookingID,
		InvoiceID:   invoiceID,
		PaymentCode: paymentCode,
		ExternalRef: externalRef,
		Amount:      amount,
		Currency:    currency,
		Gateway:     gateway,
		ProcessedBy: processedBy,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	IntentCode   string `json:"intent_code"`
	BookingID    int64  `json:"booking_id"`
	Gateway      string `json:"gateway"`
	ResponseCode string `json:"response_code"`
}

func NewPaymentFailedEvent(intentCode string, bookingID int64, gateway, responseCode string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBase(EventTypePaymentFailed, map[string]interface{}{
			"intent_code":   intentCode,
			"booking_id":    bookingID,
			"gateway":       gateway,
			"response_code": responseCode,
		}),
		IntentCode:   intentCode,
		BookingID:    bookingID,
		Gateway:      gateway,
		ResponseCode: responseCode,
	}
}

// IntentClosedEvent covers intents closed without payment (expired or cancelled).
type IntentClosedEvent struct {
	BaseEvent
	IntentCode string `json:"intent_code"`
	BookingID  int64  `json:"booking_id"`
	Reason     string `json:"reason"`
}

func NewIntentExpiredEvent(intentCode string, bookingID int64, reason string) *IntentClosedEvent {
	return newIntentClosed(EventTypeIntentExpired, intentCode, bookingID, reason)
}

func NewIntentCancelledEvent(intentCode string, bookingID int64, reason string) *IntentClosedEvent {
	return newIntentClosed(EventTypeIntentCancelled, intentCode, bookingID, reason)
}

func newIntentClosed(eventType, intentCode string, bookingID int64, reason string) *IntentClosedEvent {
	return &IntentClosedEvent{
		BaseEvent: newBase(eventType, map[string]interface{}{
			"intent_code": intentCode,
			"booking_id":  bookingID,
			"reason":      reason,
		}),
		IntentCode: intentCode,
		BookingID:  bookingID,
		Reason:     reason,
	}
}

type BookingAutoCancelledEvent struct {
	BaseEvent
	BookingID   int64  `json:"booking_id"`
	BookingCode string `json:"booking_code"`
	Reason      string `json:"reason"`
}

func NewBookingAutoCancelledEvent(bookingID int64, bookingCode, reason string) *BookingAutoCancelledEvent {
	return &BookingAutoCancelledEvent{
		BaseEvent: newBase(EventTypeBookingAutoCancelled, map[string]interface{}{
			"booking_id":   bookingID,
			"booking_code": bookingCode,
			"reason":       reason,
		}),
		BookingID:   bookingID,
		BookingCode: bookingCode,
		Reason:      reason,
	}
}
