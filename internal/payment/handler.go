package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/transport"
	"github.com/frahmantamala/autoservice-payments/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, lg *slog.Logger) *Handler {
	if lg == nil {
		lg = logger.LoggerWrapper()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// CreateIntent handles POST /api/v1/payment-intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateIntent: invalid request body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	intent, err := h.Service.CreateIntent(r.Context(), &req)
	if err != nil {
		h.Logger.Error("CreateIntent: service error", "error", err, "booking_id", req.BookingID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, NewIntentResponse(intent, nil))
}

// GetIntent handles GET /api/v1/payment-intents/{code}
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	detail, err := h.Service.GetIntent(r.Context(), code)
	if err != nil {
		h.Logger.Error("GetIntent: service error", "error", err, "intent_code", code)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewIntentResponse(detail.Intent, detail.Payment))
}

// MockComplete handles POST /api/v1/payments/mock/{paymentCode}/complete
func (h *Handler) MockComplete(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "paymentCode")

	var req MockCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("MockComplete: invalid request body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	report, err := h.Service.SimulateCallback(r.Context(), code, req.Success())
	if err != nil {
		h.Logger.Error("MockComplete: service error", "error", err, "intent_code", code)
		h.HandleServiceError(w, err)
		return
	}

	ack := AckFor(report, nil)
	h.Logger.Info("MockComplete: simulated callback processed",
		"intent_code", code,
		"final_status", report.FinalStatus,
		"rsp_code", ack.RspCode)

	resp := map[string]interface{}{
		"intent_code":       code,
		"result":            report.Result.String(),
		"status":            report.FinalStatus.String(),
		"already_processed": report.AlreadyProcessed,
		"ack":               ack,
	}
	if report.Payment != nil {
		resp["payment_code"] = report.Payment.Code
		resp["external_ref"] = report.Payment.ExternalRef
	}
	h.WriteJSON(w, http.StatusOK, resp)
}
