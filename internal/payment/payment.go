package payment

import (
	"context"
	"net/url"
	"time"

	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
)

// RepositoryAPI persists intents, payments and the callback audit log.
// Every status change is conditional on the intent still being pending.
type RepositoryAPI interface {
	CreateIntent(ctx context.Context, intent *paymentmodel.PaymentIntent) error
	GetIntentByCode(ctx context.Context, code string) (*paymentmodel.PaymentIntent, error)
	// CompleteIntent marks the intent completed and inserts p in one
	// transaction. It returns ErrIntentNotPending when the intent already
	// left pending or expired, and ErrExternalRefConflict when p.ExternalRef
	// is already recorded.
	CompleteIntent(ctx context.Context, intentID int64, p *paymentmodel.Payment, now time.Time) error
	// TransitionIntent moves a pending intent to a terminal status and
	// reports whether this call won the transition.
	TransitionIntent(ctx context.Context, intentID int64, to paymentmodel.IntentStatus, now time.Time) (bool, error)
	FindExpiredPendingIntents(ctx context.Context, now time.Time, limit int) ([]*paymentmodel.PaymentIntent, error)
	FindPendingIntentsByBooking(ctx context.Context, bookingID int64) ([]*paymentmodel.PaymentIntent, error)
	// GetPaymentByIntentID returns nil without error when no payment exists.
	GetPaymentByIntentID(ctx context.Context, intentID int64) (*paymentmodel.Payment, error)
	CountPaymentsByIntent(ctx context.Context, intentID int64) (int64, error)
	LogCallback(ctx context.Context, entry *paymentmodel.CallbackLog) error
}

type ServiceAPI interface {
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*paymentmodel.PaymentIntent, error)
	GetIntent(ctx context.Context, code string) (*IntentDetail, error)
	ApplyCallback(ctx context.Context, outcome *gatewaytypes.CallbackOutcome) (*CallbackResult, error)
	ProcessCallback(ctx context.Context, channel paymentmodel.CallbackChannel, gateway string, params url.Values) (*CallbackReport, error)
	SimulateCallback(ctx context.Context, code string, success bool) (*CallbackReport, error)
	ExpireStaleIntents(ctx context.Context, limit int) (int, error)
	CancelPendingIntents(ctx context.Context, bookingID int64, reason string) (int, error)
}

// CallbackResult is the state after applying a verified callback.
// AlreadyProcessed is set only for a Success replay matching the recorded
// payment's external reference. Conflict marks a callback on a completed
// intent that disagrees with the recorded payment.
type CallbackResult struct {
	FinalStatus      paymentmodel.IntentStatus
	AlreadyProcessed bool
	Conflict         bool
	Payment          *paymentmodel.Payment
}

// CallbackReport describes a received callback end to end, including
// callbacks rejected by verification.
type CallbackReport struct {
	Gateway          string
	Channel          paymentmodel.CallbackChannel
	IntentCode       string
	Result           gatewaytypes.Result
	FinalStatus      paymentmodel.IntentStatus
	AlreadyProcessed bool
	Conflict         bool
	Payment          *paymentmodel.Payment
}

// Succeeded reports whether the customer paid, now or on an earlier callback.
func (r *CallbackReport) Succeeded() bool {
	return r != nil && r.FinalStatus == paymentmodel.IntentStatusCompleted
}
