package paymentgateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
)

const (
	momoSignature   = "signature"
	momoSuccessCode = "0"
)

// momoSignedFields is the order MoMo concatenates fields for the IPN signature.
// accessKey is taken from configuration, the rest from the payload.
var momoSignedFields = []string{
	"accessKey", "amount", "extraData", "message", "orderId", "orderInfo",
	"orderType", "partnerCode", "payType", "requestId", "responseTime",
	"resultCode", "transId",
}

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
}

type MoMo struct {
	partnerCode string
	accessKey   string
	secretKey   string
	now         func() time.Time
}

func NewMoMo(cfg MoMoConfig) *MoMo {
	return &MoMo{
		partnerCode: cfg.PartnerCode,
		accessKey:   cfg.AccessKey,
		secretKey:   cfg.SecretKey,
		now:         time.Now,
	}
}

func (g *MoMo) Name() string {
	return gatewaytypes.GatewayMoMo
}

func (g *MoMo) Authenticate(params url.Values) (*Callback, error) {
	got := params.Get(momoSignature)
	if got == "" {
		return nil, errSignatureMissing
	}
	if !hmacEqual(g.sign(params), got) {
		return nil, errSignatureMismatch
	}

	cb := &Callback{
		IntentCode:   params.Get("orderId"),
		ExternalRef:  params.Get("transId"),
		AmountRaw:    params.Get("amount"),
		ResponseCode: params.Get("resultCode"),
		Raw:          RedactedFields(params),
	}
	if amount, err := decimal.NewFromString(cb.AmountRaw); err == nil {
		cb.Amount = amount
	}
	cb.Success = cb.ResponseCode == momoSuccessCode

	return cb, nil
}

func (g *MoMo) BuildCallback(intent *paymentmodel.PaymentIntent, success bool, externalRef string) url.Values {
	resultCode, message := momoSuccessCode, "Successful."
	if !success {
		resultCode, message = "1006", "Transaction denied by user."
	}

	params := url.Values{}
	params.Set("partnerCode", g.partnerCode)
	params.Set("orderId", intent.Code)
	params.Set("requestId", uuid.New().String())
	params.Set("amount", intent.Amount.StringFixed(0))
	params.Set("orderInfo", fmt.Sprintf("Thanh toan %s", intent.Code))
	params.Set("orderType", "momo_wallet")
	params.Set("transId", externalRef)
	params.Set("resultCode", resultCode)
	params.Set("message", message)
	params.Set("payType", "qr")
	params.Set("responseTime", strconv.FormatInt(g.now().UnixMilli(), 10))
	params.Set("extraData", "")
	params.Set(momoSignature, g.sign(params))
	return params
}

func (g *MoMo) sign(params url.Values) string {
	parts := make([]string, 0, len(momoSignedFields))
	for _, field := range momoSignedFields {
		value := params.Get(field)
		if field == "accessKey" {
			value = g.accessKey
		}
		parts = append(parts, field+"="+value)
	}

	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(strings.Join(parts, "&")))
	return signHex(mac.Sum(nil))
}

// ValuesFromJSON flattens a JSON IPN body into url.Values so JSON and query
// callbacks share one verification path. Numbers keep their literal text.
func ValuesFromJSON(body []byte) (url.Values, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode callback body: %w", err)
	}

	values := url.Values{}
	for k, v := range payload {
		switch val := v.(type) {
		case nil:
			values.Set(k, "")
		case string:
			values.Set(k, val)
		case json.Number:
			values.Set(k, val.String())
		case bool:
			values.Set(k, strconv.FormatBool(val))
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode field %s: %w", k, err)
			}
			values.Set(k, string(raw))
		}
	}
	return values, nil
}
