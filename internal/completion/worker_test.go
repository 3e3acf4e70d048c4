package completion_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/completion"
)

type mockCompleter struct {
	mu         sync.Mutex
	calls      []int64
	actors     []string
	failTimes  int
	panicTimes int
	done       chan struct{}
}

func newMockCompleter(failTimes int) *mockCompleter {
	return &mockCompleter{failTimes: failTimes, done: make(chan struct{}, 100)}
}

func (m *mockCompleter) MarkBookingPaymentCompleted(ctx context.Context, bookingID int64, actorID string) error {
	m.mu.Lock()
	m.calls = append(m.calls, bookingID)
	m.actors = append(m.actors, internal.ActorFromContext(ctx))
	n := len(m.calls)
	m.mu.Unlock()

	defer func() { m.done <- struct{}{} }()

	if n <= m.panicTimes {
		panic("downstream exploded")
	}
	if n <= m.failTimes {
		return errors.New("booking service unavailable")
	}
	return nil
}

func (m *mockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ = Describe("Worker", func() {
	var (
		queue  *completion.Queue
		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)

	cfg := completion.WorkerConfig{
		MaxRetries:  5,
		BackoffUnit: time.Millisecond,
	}

	start := func(completer completion.Completer) {
		worker := completion.NewWorker(queue, completer, cfg, testLogger())
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	BeforeEach(func() {
		queue = completion.NewQueue(10, testLogger())
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		wg.Wait()
	})

	It("should apply a job once on success", func() {
		// Given
		completer := newMockCompleter(0)
		start(completer)

		// When
		Expect(queue.Enqueue(completion.Job{BookingID: 7, ProcessedBy: "gateway:vnpay"})).To(Succeed())

		// Then
		Eventually(completer.Calls).Should(Equal(1))
		Consistently(completer.Calls, 50*time.Millisecond).Should(Equal(1))
		Expect(completer.actors).To(ConsistOf("gateway:vnpay"))
	})

	It("should retry until the downstream succeeds", func() {
		// Given
		completer := newMockCompleter(4)
		start(completer)

		// When
		Expect(queue.Enqueue(completion.Job{BookingID: 7})).To(Succeed())

		// Then
		Eventually(completer.Calls).Should(Equal(5))
		Consistently(completer.Calls, 100*time.Millisecond).Should(Equal(5))
		Expect(queue.Len()).To(Equal(0))
	})

	It("should drop the job after max retries", func() {
		// Given
		completer := newMockCompleter(100)
		start(completer)

		// When
		Expect(queue.Enqueue(completion.Job{BookingID: 7})).To(Succeed())

		// Then
		Eventually(completer.Calls).Should(Equal(5))
		Consistently(completer.Calls, 100*time.Millisecond).Should(Equal(5))
		Expect(queue.Len()).To(Equal(0))
	})

	It("should treat a panic as a transient failure and keep running", func() {
		// Given
		completer := newMockCompleter(0)
		completer.panicTimes = 1
		start(completer)

		// When
		Expect(queue.Enqueue(completion.Job{BookingID: 7})).To(Succeed())
		Eventually(completer.Calls).Should(Equal(2))
		Expect(queue.Enqueue(completion.Job{BookingID: 8})).To(Succeed())

		// Then
		Eventually(completer.Calls).Should(Equal(3))
	})

	It("should keep serving later jobs after one is dropped", func() {
		// Given
		completer := newMockCompleter(5)
		start(completer)

		// When
		Expect(queue.Enqueue(completion.Job{BookingID: 1})).To(Succeed())
		Eventually(completer.Calls).Should(Equal(5))
		Expect(queue.Enqueue(completion.Job{BookingID: 2})).To(Succeed())

		// Then
		Eventually(completer.Calls).Should(Equal(6))
	})

	It("should stop when the context is cancelled", func() {
		// Given
		completer := newMockCompleter(0)
		stopped := make(chan struct{})
		worker := completion.NewWorker(queue, completer, cfg, testLogger())
		go func() {
			worker.Run(ctx)
			close(stopped)
		}()

		// When
		cancel()

		// Then
		Eventually(stopped).Should(BeClosed())
	})

	It("should stop during backoff when the context is cancelled", func() {
		// Given
		slow := completion.WorkerConfig{MaxRetries: 5, BackoffUnit: time.Hour}
		completer := newMockCompleter(100)
		stopped := make(chan struct{})
		worker := completion.NewWorker(queue, completer, slow, testLogger())
		go func() {
			worker.Run(ctx)
			close(stopped)
		}()
		Expect(queue.Enqueue(completion.Job{BookingID: 1})).To(Succeed())
		Eventually(completer.Calls).Should(Equal(1))

		// When
		cancel()

		// Then
		Eventually(stopped).Should(BeClosed())
		Expect(completer.Calls()).To(Equal(1))
		Expect(queue.Len()).To(Equal(1))
	})
})
