package completion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/frahmantamala/autoservice-payments/internal"
	"github.com/frahmantamala/autoservice-payments/internal/metrics"
)

const (
	DefaultMaxRetries  = 5
	DefaultBackoffUnit = 2 * time.Second
	defaultCallTimeout = 30 * time.Second
)

// Completer applies the downstream effect of a completed payment. It must be
// idempotent because a job may be delivered more than once.
type Completer interface {
	MarkBookingPaymentCompleted(ctx context.Context, bookingID int64, actorID string) error
}

type WorkerConfig struct {
	MaxRetries  int
	BackoffUnit time.Duration
	CallTimeout time.Duration
}

// Worker is the single consumer of a Queue.
type Worker struct {
	queue     *Queue
	completer Completer
	cfg       WorkerConfig
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) bool
}

func NewWorker(queue *Queue, completer Completer, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultBackoffUnit
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Worker{
		queue:     queue,
		completer: completer,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Run drains the queue until ctx is cancelled or the queue is closed.
// A failing job never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("completion worker started",
		"max_retries", w.cfg.MaxRetries,
		"backoff_unit", w.cfg.BackoffUnit,
		"queue_capacity", w.queue.Cap())
	defer w.logger.Info("completion worker stopped", "pending", w.queue.Len())

	for {
		job, ok := w.queue.Dequeue(ctx)
		if !ok {
			return
		}

		if !w.handle(ctx, job) {
			return
		}
	}
}

// handle processes one job and returns false when the worker should stop.
func (w *Worker) handle(ctx context.Context, job Job) bool {
	err := w.process(ctx, job)
	if err == nil {
		metrics.CompletionSucceeded()
		w.logger.Info("completion job applied", job.logAttrs()...)
		return true
	}

	job.RetryCount++
	if job.RetryCount >= w.cfg.MaxRetries {
		metrics.CompletionDroppedMaxRetries()
		w.logger.Error("completion job dropped",
			append(job.logAttrs(), "attempts", job.RetryCount, "processed_by", job.ProcessedBy, "error", err)...)
		return true
	}

	if qerr := w.queue.Enqueue(job); qerr != nil {
		w.logger.Error("completion job dropped",
			append(job.logAttrs(), "attempts", job.RetryCount, "processed_by", job.ProcessedBy, "error", err, "requeue_error", qerr)...)
		return true
	}
	metrics.CompletionRetried()

	backoff := w.cfg.BackoffUnit * time.Duration(job.RetryCount)
	w.logger.Warn("completion job failed, retrying",
		append(job.logAttrs(), "backoff", backoff, "error", err)...)

	return w.sleep(ctx, backoff)
}

func (w *Worker) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("completion job panicked",
				append(job.logAttrs(), "panic", r, "stack", string(debug.Stack()))...)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	callCtx, cancel := internal.WithTimeout(internal.ContextWithActor(ctx, job.ProcessedBy), w.cfg.CallTimeout)
	defer cancel()

	return w.completer.MarkBookingPaymentCompleted(callCtx, job.BookingID, job.ProcessedBy)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
