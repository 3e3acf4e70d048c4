package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/completion"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/autoservice-payments/internal/core/events"
	"github.com/frahmantamala/autoservice-payments/internal/metrics"
	"github.com/frahmantamala/autoservice-payments/internal/paymentgateway"
)

type Verifier interface {
	Verify(ctx context.Context, gatewayName string, params url.Values) (*gatewaytypes.CallbackOutcome, error)
	Simulate(intent *paymentmodel.PaymentIntent, success bool, externalRef string) (url.Values, error)
	Supports(gatewayName string) bool
}

type Enqueuer interface {
	Enqueue(job completion.Job) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Config struct {
	IntentExpiry    time.Duration
	DefaultCurrency string
	MockEnabled     bool
}

// Service owns every PaymentIntent and Payment mutation.
type Service struct {
	repo     RepositoryAPI
	verifier Verifier
	queue    Enqueuer
	events   EventPublisher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo RepositoryAPI, verifier Verifier, queue Enqueuer, publisher EventPublisher, cfg Config, logger *slog.Logger) *Service {
	if cfg.IntentExpiry <= 0 {
		cfg.IntentExpiry = internal.DefaultIntentExpiry
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "VND"
	}
	return &Service{
		repo:     repo,
		verifier: verifier,
		queue:    queue,
		events:   publisher,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*paymentmodel.PaymentIntent, error) {
	now := s.now()
	if err := req.ValidateAt(now); err != nil {
		return nil, err
	}

	gateway := strings.ToLower(req.Gateway)
	if !s.verifier.Supports(gateway) {
		return nil, internal.ErrUnsupportedGateway
	}

	expiresAt := now.Add(s.cfg.IntentExpiry)
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC()
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	code := req.Code
	if code == "" {
		code = "PI-" + strings.ToUpper(uuid.New().String()[:8])
	}

	intent := &paymentmodel.PaymentIntent{
		Code:      code,
		BookingID: req.BookingID,
		InvoiceID: req.InvoiceID,
		Amount:    req.AmountDecimal(),
		Currency:  currency,
		Gateway:   gateway,
		Status:    paymentmodel.IntentStatusPending,
		ExpiresAt: expiresAt,
	}

	if err := s.repo.CreateIntent(ctx, intent); err != nil {
		if errors.Is(err, internal.ErrIntentExists) {
			return nil, err
		}
		s.logger.Error("failed to create payment intent", "error", err, "intent_code", code, "booking_id", req.BookingID)
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	s.logger.Info("payment intent created",
		"intent_code", intent.Code,
		"booking_id", intent.BookingID,
		"amount", intent.Amount.String(),
		"gateway", intent.Gateway,
		"expires_at", intent.ExpiresAt)

	return intent, nil
}

func (s *Service) GetIntent(ctx context.Context, code string) (*IntentDetail, error) {
	intent, err := s.repo.GetIntentByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	detail := &IntentDetail{Intent: intent}
	if intent.Status == paymentmodel.IntentStatusCompleted {
		p, err := s.repo.GetPaymentByIntentID(ctx, intent.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load payment for intent %s: %w", code, err)
		}
		detail.Payment = p
	}
	return detail, nil
}

// ProcessCallback verifies a raw callback, applies it and writes the audit
// row. Verification rejections are reported in the result, not as errors.
func (s *Service) ProcessCallback(ctx context.Context, channel paymentmodel.CallbackChannel, gateway string, params url.Values) (*CallbackReport, error) {
	gateway = strings.ToLower(gateway)
	if internal.ActorFromContext(ctx) == "" {
		ctx = internal.ContextWithActor(ctx, "gateway:"+gateway)
	}

	report := &CallbackReport{Gateway: gateway, Channel: channel}

	outcome, err := s.verifier.Verify(ctx, gateway, params)
	if err != nil {
		var verr *gatewaytypes.VerificationError
		if !errors.As(err, &verr) {
			s.audit(ctx, report, params, err)
			return report, err
		}
		report.Result = verr.Result
		report.IntentCode = verr.IntentCode
		s.audit(ctx, report, params, nil)
		return report, nil
	}

	report.Result = outcome.Result
	report.IntentCode = outcome.IntentCode

	result, err := s.ApplyCallback(ctx, outcome)
	if err != nil {
		s.logger.Error("failed to apply gateway callback",
			"error", err,
			"gateway", gateway,
			"channel", channel,
			"intent_code", outcome.IntentCode)
		s.audit(ctx, report, params, err)
		return report, err
	}

	report.FinalStatus = result.FinalStatus
	report.AlreadyProcessed = result.AlreadyProcessed
	report.Conflict = result.Conflict
	report.Payment = result.Payment
	s.audit(ctx, report, params, nil)

	return report, nil
}

// ApplyCallback runs the intent state machine for a verified outcome.
func (s *Service) ApplyCallback(ctx context.Context, outcome *gatewaytypes.CallbackOutcome) (*CallbackResult, error) {
	if outcome == nil || (outcome.Result != gatewaytypes.ResultSuccess && outcome.Result != gatewaytypes.ResultFailed) {
		return nil, internal.ErrMalformedCallback
	}

	intent, err := s.repo.GetIntentByCode(ctx, outcome.IntentCode)
	if err != nil {
		return nil, err
	}

	if intent.Status.IsTerminal() {
		return s.alreadyProcessed(ctx, intent, outcome)
	}

	now := s.now()
	if intent.IsExpiredAt(now) {
		return s.expire(ctx, intent, outcome, now)
	}

	if outcome.Succeeded() {
		return s.complete(ctx, intent, outcome, now)
	}
	return s.fail(ctx, intent, outcome, now)
}

func (s *Service) complete(ctx context.Context, intent *paymentmodel.PaymentIntent, outcome *gatewaytypes.CallbackOutcome, now time.Time) (*CallbackResult, error) {
	actor := internal.ActorFromContext(ctx)
	if actor == "" {
		actor = "gateway:" + intent.Gateway
	}

	p := &paymentmodel.Payment{
		Code:            "PAY-" + strings.ToUpper(uuid.New().String()[:12]),
		InvoiceID:       intent.InvoiceID,
		IntentID:        intent.ID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Gateway:         intent.Gateway,
		ExternalRef:     outcome.ExternalRef,
		Status:          paymentmodel.PaymentStatusCompleted,
		ProcessedBy:     actor,
		ProcessedAt:     now,
		GatewayResponse: rawJSON(outcome.Raw),
	}

	err := s.repo.CompleteIntent(ctx, intent.ID, p, now)
	switch {
	case errors.Is(err, internal.ErrIntentNotPending):
		return s.lostTransition(ctx, intent.Code, outcome)
	case errors.Is(err, internal.ErrExternalRefConflict):
		s.logger.Error("external reference already recorded for another payment",
			"intent_code", intent.Code,
			"external_ref", outcome.ExternalRef,
			"gateway", intent.Gateway)
		return s.lostTransition(ctx, intent.Code, outcome)
	case err != nil:
		return nil, fmt.Errorf("failed to complete intent %s: %w", intent.Code, err)
	}

	metrics.IntentTransition(paymentmodel.IntentStatusCompleted.String())
	s.logger.Info("payment intent completed",
		"intent_code", intent.Code,
		"payment_code", p.Code,
		"external_ref", p.ExternalRef,
		"amount", p.Amount.String(),
		"processed_by", actor)

	job := completion.Job{
		BookingID:   intent.BookingID,
		InvoiceID:   intent.InvoiceID,
		IntentID:    intent.ID,
		ProcessedBy: actor,
	}
	if err := s.queue.Enqueue(job); err != nil {
		// the payment is committed; resync repairs the booking later
		s.logger.Error("failed to enqueue completion job",
			"error", err,
			"booking_id", job.BookingID,
			"invoice_id", job.InvoiceID,
			"intent_id", job.IntentID)
	}

	s.publish(ctx, events.NewPaymentCompletedEvent(
		intent.Code, intent.ID, intent.BookingID, intent.InvoiceID,
		p.Code, p.ExternalRef, p.Amount.String(), p.Currency, p.Gateway, actor,
	))

	return &CallbackResult{FinalStatus: paymentmodel.IntentStatusCompleted, Payment: p}, nil
}

func (s *Service) fail(ctx context.Context, intent *paymentmodel.PaymentIntent, outcome *gatewaytypes.CallbackOutcome, now time.Time) (*CallbackResult, error) {
	won, err := s.repo.TransitionIntent(ctx, intent.ID, paymentmodel.IntentStatusFailed, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark intent %s failed: %w", intent.Code, err)
	}
	if !won {
		return s.lostTransition(ctx, intent.Code, outcome)
	}

	metrics.IntentTransition(paymentmodel.IntentStatusFailed.String())
	s.logger.Info("payment intent failed",
		"intent_code", intent.Code,
		"gateway", intent.Gateway,
		"response_code", outcome.ResponseCode)

	s.publish(ctx, events.NewPaymentFailedEvent(intent.Code, intent.BookingID, intent.Gateway, outcome.ResponseCode))

	return &CallbackResult{FinalStatus: paymentmodel.IntentStatusFailed}, nil
}

func (s *Service) expire(ctx context.Context, intent *paymentmodel.PaymentIntent, outcome *gatewaytypes.CallbackOutcome, now time.Time) (*CallbackResult, error) {
	won, err := s.repo.TransitionIntent(ctx, intent.ID, paymentmodel.IntentStatusExpired, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire intent %s: %w", intent.Code, err)
	}
	if !won {
		return s.lostTransition(ctx, intent.Code, outcome)
	}

	metrics.IntentTransition(paymentmodel.IntentStatusExpired.String())
	s.logger.Warn("callback arrived after intent expiry",
		"intent_code", intent.Code,
		"expires_at", intent.ExpiresAt,
		"result", outcome.Result)

	s.publish(ctx, events.NewIntentExpiredEvent(intent.Code, intent.BookingID, "callback after expiry"))

	return &CallbackResult{FinalStatus: paymentmodel.IntentStatusExpired}, nil
}

// lostTransition handles a conditional update that matched no row: another
// callback or the sweep got there first.
func (s *Service) lostTransition(ctx context.Context, code string, outcome *gatewaytypes.CallbackOutcome) (*CallbackResult, error) {
	intent, err := s.repo.GetIntentByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() {
		return s.alreadyProcessed(ctx, intent, outcome)
	}
	return nil, internal.ErrTransitionConflict
}

func (s *Service) alreadyProcessed(ctx context.Context, intent *paymentmodel.PaymentIntent, outcome *gatewaytypes.CallbackOutcome) (*CallbackResult, error) {
	result := &CallbackResult{FinalStatus: intent.Status}

	if intent.Status != paymentmodel.IntentStatusCompleted {
		s.logger.Info("callback for closed intent ignored",
			"intent_code", intent.Code,
			"status", intent.Status,
			"result", outcome.Result)
		return result, nil
	}

	p, err := s.repo.GetPaymentByIntentID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment for intent %s: %w", intent.Code, err)
	}
	result.Payment = p

	if p != nil && outcome.Succeeded() && p.ExternalRef == outcome.ExternalRef {
		result.AlreadyProcessed = true
		s.logger.Info("replayed callback ignored",
			"intent_code", intent.Code,
			"external_ref", p.ExternalRef)
		return result, nil
	}

	result.Conflict = true
	recorded := ""
	if p != nil {
		recorded = p.ExternalRef
	}
	s.logger.Warn("callback conflicts with the recorded payment",
		"intent_code", intent.Code,
		"recorded_ref", recorded,
		"callback_ref", outcome.ExternalRef,
		"result", outcome.Result)

	return result, nil
}

// ExpireStaleIntents moves pending intents past their expiry to expired.
func (s *Service) ExpireStaleIntents(ctx context.Context, limit int) (int, error) {
	now := s.now()
	intents, err := s.repo.FindExpiredPendingIntents(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired intents: %w", err)
	}

	expired := 0
	for _, intent := range intents {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		won, err := s.repo.TransitionIntent(ctx, intent.ID, paymentmodel.IntentStatusExpired, now)
		if err != nil {
			s.logger.Error("failed to expire intent", "error", err, "intent_code", intent.Code)
			continue
		}
		if !won {
			continue
		}
		expired++
		metrics.IntentTransition(paymentmodel.IntentStatusExpired.String())
		s.publish(ctx, events.NewIntentExpiredEvent(intent.Code, intent.BookingID, "expiry sweep"))
	}

	return expired, nil
}

// CancelPendingIntents cancels every pending intent of a booking.
func (s *Service) CancelPendingIntents(ctx context.Context, bookingID int64, reason string) (int, error) {
	intents, err := s.repo.FindPendingIntentsByBooking(ctx, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to find pending intents for booking %d: %w", bookingID, err)
	}

	now := s.now()
	cancelled := 0
	for _, intent := range intents {
		won, err := s.repo.TransitionIntent(ctx, intent.ID, paymentmodel.IntentStatusCancelled, now)
		if err != nil {
			return cancelled, fmt.Errorf("failed to cancel intent %s: %w", intent.Code, err)
		}
		if !won {
			continue
		}
		cancelled++
		metrics.IntentTransition(paymentmodel.IntentStatusCancelled.String())
		s.publish(ctx, events.NewIntentCancelledEvent(intent.Code, bookingID, reason))
	}
	return cancelled, nil
}

// SimulateCallback signs and processes a callback as if it came from the
// intent's gateway.
func (s *Service) SimulateCallback(ctx context.Context, code string, success bool) (*CallbackReport, error) {
	if !s.cfg.MockEnabled {
		return nil, internal.ErrMockGatewayDisabled
	}

	intent, err := s.repo.GetIntentByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	params, err := s.verifier.Simulate(intent, success, "MOCK-"+strings.ToUpper(uuid.New().String()[:12]))
	if err != nil {
		return nil, err
	}

	ctx = internal.ContextWithActor(ctx, "mock:"+intent.Gateway)
	return s.ProcessCallback(ctx, paymentmodel.ChannelMock, intent.Gateway, params)
}

func (s *Service) audit(ctx context.Context, report *CallbackReport, params url.Values, procErr error) {
	result := report.Result.String()
	if procErr != nil {
		result = "error"
	}
	gatewayLabel := report.Gateway
	if !s.verifier.Supports(gatewayLabel) {
		gatewayLabel = metrics.UnknownGateway
	}
	metrics.CallbackReceived(gatewayLabel, string(report.Channel), result)

	entry := &paymentmodel.CallbackLog{
		Gateway:      report.Gateway,
		Channel:      report.Channel,
		IntentCode:   report.IntentCode,
		Result:       result,
		ResponseCode: AckFor(report, procErr).RspCode,
		Payload:      rawJSON(paymentgateway.RedactedFields(params)),
		ReceivedAt:   s.now(),
	}
	if err := s.repo.LogCallback(ctx, entry); err != nil {
		s.logger.Warn("failed to write callback audit log", "error", err, "intent_code", report.IntentCode)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func rawJSON(fields map[string]string) datatypes.JSON {
	if len(fields) == 0 {
		return datatypes.JSON("{}")
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}
