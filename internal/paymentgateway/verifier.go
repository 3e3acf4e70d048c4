package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/frahmantamala/autoservice-payments/internal"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
)

type IntentLookup interface {
	GetIntentByCode(ctx context.Context, code string) (*paymentmodel.PaymentIntent, error)
}

// Verifier authenticates callbacks and checks them against stored intents.
// It never mutates state.
type Verifier struct {
	registry *Registry
	intents  IntentLookup
	logger   *slog.Logger
}

func NewVerifier(registry *Registry, intents IntentLookup, logger *slog.Logger) *Verifier {
	return &Verifier{
		registry: registry,
		intents:  intents,
		logger:   logger,
	}
}

// Verify returns a Success or Failed outcome, a *VerificationError for
// callbacks that must be rejected, or a plain error when the lookup itself
// failed.
func (v *Verifier) Verify(ctx context.Context, gatewayName string, params url.Values) (*gatewaytypes.CallbackOutcome, error) {
	gateway, err := v.registry.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	cb, err := gateway.Authenticate(params)
	if err != nil {
		v.logger.Warn("gateway callback signature rejected",
			"gateway", gateway.Name(),
			"reason", err.Error())
		return nil, &gatewaytypes.VerificationError{
			Result:  gatewaytypes.ResultInvalidSignature,
			Gateway: gateway.Name(),
			Reason:  err.Error(),
		}
	}

	reject := func(result gatewaytypes.Result, reason string) error {
		v.logger.Warn("gateway callback rejected",
			"gateway", gateway.Name(),
			"intent_code", cb.IntentCode,
			"result", result,
			"reason", reason)
		return &gatewaytypes.VerificationError{
			Result:     result,
			Gateway:    gateway.Name(),
			IntentCode: cb.IntentCode,
			Reason:     reason,
		}
	}

	if cb.IntentCode == "" {
		return nil, reject(gatewaytypes.ResultPaymentNotFound, "intent code missing")
	}
	if cb.Success && cb.ExternalRef == "" {
		return nil, reject(gatewaytypes.ResultPaymentNotFound, "transaction reference missing")
	}

	intent, err := v.intents.GetIntentByCode(ctx, cb.IntentCode)
	if err != nil {
		if errors.Is(err, internal.ErrIntentNotFound) {
			return nil, reject(gatewaytypes.ResultPaymentNotFound, "no intent with this code")
		}
		return nil, fmt.Errorf("lookup intent %s: %w", cb.IntentCode, err)
	}

	if intent.Gateway != gateway.Name() {
		return nil, reject(gatewaytypes.ResultPaymentNotFound, "intent belongs to gateway "+intent.Gateway)
	}

	if cb.AmountRaw == "" || !cb.Amount.Equal(intent.Amount) {
		return nil, reject(gatewaytypes.ResultInvalidAmount,
			fmt.Sprintf("callback amount %s does not match intent amount %s", cb.Amount.String(), intent.Amount.String()))
	}

	result := gatewaytypes.ResultFailed
	if cb.Success {
		result = gatewaytypes.ResultSuccess
	}

	return &gatewaytypes.CallbackOutcome{
		Gateway:      gateway.Name(),
		IntentCode:   cb.IntentCode,
		ExternalRef:  cb.ExternalRef,
		Amount:       cb.Amount,
		Result:       result,
		ResponseCode: cb.ResponseCode,
		Raw:          cb.Raw,
	}, nil
}

// Simulate builds a signed callback for intent on its own gateway.
func (v *Verifier) Simulate(intent *paymentmodel.PaymentIntent, success bool, externalRef string) (url.Values, error) {
	gateway, err := v.registry.Get(intent.Gateway)
	if err != nil {
		return nil, err
	}
	return gateway.BuildCallback(intent, success, externalRef), nil
}

func (v *Verifier) Supports(gatewayName string) bool {
	_, err := v.registry.Get(gatewayName)
	return err == nil
}
