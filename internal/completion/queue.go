package completion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/autoservice-payments/internal/metrics"
)

var ErrQueueClosed = errors.New("completion queue closed")

// Job asks the worker to apply the side effects of a completed payment.
type Job struct {
	BookingID   int64
	InvoiceID   int64
	IntentID    int64
	ProcessedBy string
	RetryCount  int
	EnqueuedAt  time.Time
}

func (j Job) logAttrs() []any {
	return []any{
		"booking_id", j.BookingID,
		"invoice_id", j.InvoiceID,
		"intent_id", j.IntentID,
		"retry_count", j.RetryCount,
	}
}

// Queue is a bounded multi-producer single-consumer FIFO. When full, the
// oldest job is discarded to admit the new one, so Enqueue never blocks.
type Queue struct {
	mu      sync.Mutex
	buf     []Job
	head    int
	size    int
	closed  bool
	dropped uint64
	notify  chan struct{}
	logger  *slog.Logger
}

func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		buf:    make([]Job, capacity),
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	var evicted *Job
	if q.size == len(q.buf) {
		old := q.buf[q.head]
		evicted = &old
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
	}
	q.buf[(q.head+q.size)%len(q.buf)] = job
	q.size++
	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	if evicted != nil {
		q.logger.Warn("completion queue full, dropped oldest job", append(evicted.logAttrs(), "capacity", len(q.buf))...)
		metrics.CompletionDroppedOverflow()
	}
	metrics.CompletionEnqueued()
	return nil
}

// Dequeue blocks until a job is available. It returns false when ctx is done
// or the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			job := q.buf[q.head]
			q.buf[q.head] = Job{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			q.mu.Unlock()
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Job{}, false
		}

		select {
		case <-ctx.Done():
			return Job{}, false
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Cap() int {
	return len(q.buf)
}

// Dropped counts jobs evicted by overflow since construction.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further jobs. Jobs already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remaining := q.size
	close(q.notify)
	q.mu.Unlock()

	if remaining > 0 {
		q.logger.Warn("completion queue closed with pending jobs", "pending", remaining)
	}
}
