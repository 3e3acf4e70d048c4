package payment

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"

	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/autoservice-payments/internal/paymentgateway"
	"github.com/frahmantamala/autoservice-payments/internal/transport"
)

const maxCallbackBody = 64 << 10

// WebhookHandler serves the gateway return redirect and the server-to-server
// IPN. IPN responses are always HTTP 200; the outcome travels in the Ack.
type WebhookHandler struct {
	*transport.BaseHandler
	paymentService    ServiceAPI
	frontendReturnURL string
	logger            *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, frontendReturnURL string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:       baseHandler,
		paymentService:    paymentService,
		frontendReturnURL: frontendReturnURL,
		logger:            logger,
	}
}

// HandleReturn handles GET /api/v1/payments/{gateway}/return
func (h *WebhookHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")

	report, err := h.paymentService.ProcessCallback(r.Context(), paymentmodel.ChannelReturn, gateway, r.URL.Query())
	if err != nil {
		h.logger.Error("failed to process gateway return", "error", err, "gateway", gateway)
	}

	ack := AckFor(report, err)
	status := "failed"
	if err == nil && report.Succeeded() {
		status = "success"
	}
	code := reportIntentCode(report)

	if h.frontendReturnURL == "" {
		summary := ReturnSummary{PaymentCode: code, Status: status, Message: ack.Message}
		if report != nil {
			summary.Result = report.Result.String()
		}
		h.WriteJSON(w, http.StatusOK, summary)
		return
	}

	target, perr := url.Parse(h.frontendReturnURL)
	if perr != nil {
		h.logger.Error("invalid frontend return url", "error", perr)
		h.WriteError(w, http.StatusInternalServerError, "return url misconfigured")
		return
	}
	q := target.Query()
	q.Set("paymentCode", code)
	q.Set("status", status)
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// HandleIPN handles GET|POST /api/v1/payments/{gateway}/ipn
func (h *WebhookHandler) HandleIPN(w http.ResponseWriter, r *http.Request) {
	gateway := chi.URLParam(r, "gateway")

	params, err := callbackParams(r)
	if err != nil {
		h.logger.Warn("unreadable gateway ipn", "error", err, "gateway", gateway)
		h.WriteJSON(w, http.StatusOK, AckUnknownError)
		return
	}

	report, err := h.paymentService.ProcessCallback(r.Context(), paymentmodel.ChannelIPN, gateway, params)
	if err != nil {
		h.logger.Error("failed to process gateway ipn", "error", err, "gateway", gateway)
	}

	ack := AckFor(report, err)
	h.logger.Info("gateway ipn acknowledged",
		"gateway", gateway,
		"intent_code", reportIntentCode(report),
		"rsp_code", ack.RspCode)

	h.WriteJSON(w, http.StatusOK, ack)
}

// callbackParams reads query parameters for GET and form or JSON bodies for
// POST. JSON objects are flattened to one value per key.
func callbackParams(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodPost {
		return r.URL.Query(), nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxCallbackBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return paymentgateway.ValuesFromJSON(body)
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.Form, nil
}

func reportIntentCode(report *CallbackReport) string {
	if report == nil {
		return ""
	}
	return report.IntentCode
}
