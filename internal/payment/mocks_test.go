package payment_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/completion"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/autoservice-payments/internal/core/events"
	"github.com/frahmantamala/autoservice-payments/internal/paymentgateway"
)

const (
	testVNPaySecret = "VNPAYSECRET"
	testMoMoSecret  = "MOMOSECRET"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testVerifier(repo paymentgateway.IntentLookup) *paymentgateway.Verifier {
	registry := paymentgateway.NewRegistry(
		paymentgateway.NewVNPay(paymentgateway.VNPayConfig{TmnCode: "TMN01", HashSecret: testVNPaySecret}),
		paymentgateway.NewMoMo(paymentgateway.MoMoConfig{PartnerCode: "MOMO01", AccessKey: "ACCESS", SecretKey: testMoMoSecret}),
	)
	return paymentgateway.NewVerifier(registry, repo, testLogger())
}

// mockPaymentRepository keeps the conditional-update semantics of the real
// repository in memory.
type mockPaymentRepository struct {
	mu            sync.Mutex
	intents       map[string]*paymentmodel.PaymentIntent
	payments      []*paymentmodel.Payment
	logs          []*paymentmodel.CallbackLog
	nextID        int64
	getError      error
	completeHook  func()
	completeError error
	logError      error
}

func newMockPaymentRepository() *mockPaymentRepository {
	return &mockPaymentRepository{intents: make(map[string]*paymentmodel.PaymentIntent)}
}

func (m *mockPaymentRepository) CreateIntent(ctx context.Context, intent *paymentmodel.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.intents[intent.Code]; exists {
		return internal.ErrIntentExists
	}
	m.nextID++
	intent.ID = m.nextID
	intent.CreatedAt = time.Now().UTC()
	m.intents[intent.Code] = intent
	return nil
}

func (m *mockPaymentRepository) GetIntentByCode(ctx context.Context, code string) (*paymentmodel.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getError != nil {
		return nil, m.getError
	}
	intent, ok := m.intents[code]
	if !ok {
		return nil, internal.ErrIntentNotFound
	}
	copied := *intent
	return &copied, nil
}

func (m *mockPaymentRepository) byID(id int64) *paymentmodel.PaymentIntent {
	for _, intent := range m.intents {
		if intent.ID == id {
			return intent
		}
	}
	return nil
}

func (m *mockPaymentRepository) CompleteIntent(ctx context.Context, intentID int64, p *paymentmodel.Payment, now time.Time) error {
	if m.completeHook != nil {
		m.completeHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeError != nil {
		return m.completeError
	}
	intent := m.byID(intentID)
	if intent == nil || intent.Status != paymentmodel.IntentStatusPending || !now.Before(intent.ExpiresAt) {
		return internal.ErrIntentNotPending
	}
	for _, existing := range m.payments {
		if existing.ExternalRef == p.ExternalRef {
			return internal.ErrExternalRefConflict
		}
	}
	intent.Status = paymentmodel.IntentStatusCompleted
	intent.CompletedAt = &now
	p.ID = int64(len(m.payments) + 1)
	m.payments = append(m.payments, p)
	return nil
}

func (m *mockPaymentRepository) TransitionIntent(ctx context.Context, intentID int64, to paymentmodel.IntentStatus, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent := m.byID(intentID)
	if intent == nil || intent.Status != paymentmodel.IntentStatusPending {
		return false, nil
	}
	intent.Status = to
	return true, nil
}

func (m *mockPaymentRepository) FindExpiredPendingIntents(ctx context.Context, now time.Time, limit int) ([]*paymentmodel.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*paymentmodel.PaymentIntent
	for _, intent := range m.intents {
		if intent.Status == paymentmodel.IntentStatusPending && !intent.ExpiresAt.After(now) {
			copied := *intent
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockPaymentRepository) FindPendingIntentsByBooking(ctx context.Context, bookingID int64) ([]*paymentmodel.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*paymentmodel.PaymentIntent
	for _, intent := range m.intents {
		if intent.BookingID == bookingID && intent.Status == paymentmodel.IntentStatusPending {
			copied := *intent
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockPaymentRepository) GetPaymentByIntentID(ctx context.Context, intentID int64) (*paymentmodel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IntentID == intentID {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockPaymentRepository) CountPaymentsByIntent(ctx context.Context, intentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, p := range m.payments {
		if p.IntentID == intentID {
			count++
		}
	}
	return count, nil
}

func (m *mockPaymentRepository) LogCallback(ctx context.Context, entry *paymentmodel.CallbackLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logError != nil {
		return m.logError
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *mockPaymentRepository) status(code string) paymentmodel.IntentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intents[code].Status
}

func (m *mockPaymentRepository) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

type mockQueue struct {
	mu     sync.Mutex
	jobs   []completion.Job
	closed bool
}

func (q *mockQueue) Enqueue(job completion.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return completion.ErrQueueClosed
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *mockQueue) Jobs() []completion.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]completion.Job(nil), q.jobs...)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *mockPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *mockPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType())
	}
	return types
}
