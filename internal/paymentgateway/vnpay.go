package paymentgateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
)

const (
	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"
	vnpSuccessCode    = "00"
	// vnp_Amount is sent in minor units (x100).
	vnpAmountShift = 2
)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
}

type VNPay struct {
	tmnCode    string
	hashSecret string
	now        func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	return &VNPay{
		tmnCode:    cfg.TmnCode,
		hashSecret: cfg.HashSecret,
		now:        time.Now,
	}
}

func (g *VNPay) Name() string {
	return gatewaytypes.GatewayVNPay
}

func (g *VNPay) Authenticate(params url.Values) (*Callback, error) {
	got := params.Get(vnpSecureHash)
	if got == "" {
		return nil, errSignatureMissing
	}
	if !hmacEqual(g.sign(params), got) {
		return nil, errSignatureMismatch
	}

	cb := &Callback{
		IntentCode:   params.Get("vnp_TxnRef"),
		ExternalRef:  params.Get("vnp_TransactionNo"),
		AmountRaw:    params.Get("vnp_Amount"),
		ResponseCode: params.Get("vnp_ResponseCode"),
		Raw:          RedactedFields(params),
	}

	if amount, err := decimal.NewFromString(cb.AmountRaw); err == nil {
		cb.Amount = amount.Shift(-vnpAmountShift)
	}

	status := params.Get("vnp_TransactionStatus")
	cb.Success = cb.ResponseCode == vnpSuccessCode && (status == "" || status == vnpSuccessCode)

	return cb, nil
}

func (g *VNPay) BuildCallback(intent *paymentmodel.PaymentIntent, success bool, externalRef string) url.Values {
	responseCode, txnStatus := vnpSuccessCode, vnpSuccessCode
	if !success {
		// 24: customer cancelled the transaction
		responseCode, txnStatus = "24", "02"
	}

	params := url.Values{}
	params.Set("vnp_TmnCode", g.tmnCode)
	params.Set("vnp_Amount", intent.Amount.Shift(vnpAmountShift).StringFixed(0))
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_OrderInfo", fmt.Sprintf("Thanh toan %s", intent.Code))
	params.Set("vnp_PayDate", g.now().Format("20060102150405"))
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionNo", externalRef)
	params.Set("vnp_TransactionStatus", txnStatus)
	params.Set("vnp_TxnRef", intent.Code)
	params.Set(vnpSecureHash, g.sign(params))
	return params
}

// sign computes the hex HMAC-SHA512 of every vnp_ field except the hash
// fields, sorted by key and query-escaped.
func (g *VNPay) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if !strings.HasPrefix(k, "vnp_") || k == vnpSecureHash || k == vnpSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params.Get(k)))
	}

	mac := hmac.New(sha512.New, []byte(g.hashSecret))
	mac.Write([]byte(strings.Join(parts, "&")))
	return signHex(mac.Sum(nil))
}
