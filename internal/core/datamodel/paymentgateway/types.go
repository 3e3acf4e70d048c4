package paymentgateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	GatewayVNPay = "vnpay"
	GatewayMoMo  = "momo"
)

// Result is the canonical outcome of verifying a gateway callback.
type Result string

const (
	ResultSuccess          Result = "success"
	ResultFailed           Result = "failed"
	ResultPaymentNotFound  Result = "payment_not_found"
	ResultInvalidAmount    Result = "invalid_amount"
	ResultInvalidSignature Result = "invalid_signature"
)

func (r Result) String() string {
	return string(r)
}

// CallbackOutcome is an authenticated callback whose amount matched the
// stored intent. Only Success and Failed outcomes exist.
type CallbackOutcome struct {
	Gateway      string
	IntentCode   string
	ExternalRef  string
	Amount       decimal.Decimal
	Result       Result
	ResponseCode string
	Raw          map[string]string
}

func (o *CallbackOutcome) Succeeded() bool {
	return o.Result == ResultSuccess
}

// VerificationError marks a callback that must not mutate any state.
type VerificationError struct {
	Result     Result
	Gateway    string
	IntentCode string
	Reason     string
}

func (e *VerificationError) Error() string {
	if e.IntentCode != "" {
		return fmt.Sprintf("%s callback for %s rejected: %s (%s)", e.Gateway, e.IntentCode, e.Result, e.Reason)
	}
	return fmt.Sprintf("%s callback rejected: %s (%s)", e.Gateway, e.Result, e.Reason)
}
