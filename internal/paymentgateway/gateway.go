package paymentgateway

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/autoservice-payments/internal"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
)

var (
	errSignatureMissing  = errors.New("signature missing")
	errSignatureMismatch = errors.New("signature mismatch")
)

// Callback is the gateway-native payload after its signature was checked.
type Callback struct {
	IntentCode   string
	ExternalRef  string
	Amount       decimal.Decimal
	AmountRaw    string
	Success      bool
	ResponseCode string
	Raw          map[string]string
}

// Gateway knows one provider's signing scheme, field layout and amount encoding.
type Gateway interface {
	Name() string
	// Authenticate checks the signature and decodes the callback fields.
	Authenticate(params url.Values) (*Callback, error)
	// BuildCallback returns a correctly signed callback payload for intent.
	BuildCallback(intent *paymentmodel.PaymentIntent, success bool, externalRef string) url.Values
}

type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, internal.ErrUnsupportedGateway
	}
	return g, nil
}

func hmacEqual(expected, got string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(got)))
}

func signHex(mac []byte) string {
	return hex.EncodeToString(mac)
}

// signatureFields never leave the verifier, neither in audit rows nor logs.
var signatureFields = map[string]bool{
	vnpSecureHash:     true,
	vnpSecureHashType: true,
	momoSignature:     true,
}

// RedactedFields flattens params without signature fields.
func RedactedFields(params url.Values) map[string]string {
	raw := make(map[string]string, len(params))
	for k := range params {
		if signatureFields[k] {
			continue
		}
		raw[k] = params.Get(k)
	}
	return raw
}
