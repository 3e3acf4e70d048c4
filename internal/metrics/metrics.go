package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/frahmantamala/autoservice-payments/internal"
)

var (
	completionEnqueued       = vm.GetOrCreateCounter(`completion_jobs_enqueued_total`)
	completionSucceeded      = vm.GetOrCreateCounter(`completion_jobs_processed_total{result="success"}`)
	completionRetried        = vm.GetOrCreateCounter(`completion_jobs_processed_total{result="retry"}`)
	completionDroppedFull    = vm.GetOrCreateCounter(`completion_jobs_dropped_total{reason="overflow"}`)
	completionDroppedRetries = vm.GetOrCreateCounter(`completion_jobs_dropped_total{reason="max_retries"}`)
)

// Setup starts pushing metrics when a push URL is configured.
func Setup(cfg internal.MetricsConfig, logger *slog.Logger) {
	if !cfg.Enabled || cfg.PushURL == "" {
		return
	}

	if err := vm.InitPush(cfg.PushURL, cfg.PushInterval, cfg.CommonLabels, true); err != nil {
		logger.Error("failed to initialize metrics push", "url", cfg.PushURL, "error", err)
		return
	}
	logger.Info("metrics push initialized", "url", cfg.PushURL, "interval", cfg.PushInterval)
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		vm.WritePrometheus(w, true)
	})
}

func CompletionEnqueued() {
	completionEnqueued.Inc()
}

func CompletionSucceeded() {
	completionSucceeded.Inc()
}

func CompletionRetried() {
	completionRetried.Inc()
}

func CompletionDroppedOverflow() {
	completionDroppedFull.Inc()
}

func CompletionDroppedMaxRetries() {
	completionDroppedRetries.Inc()
}

// CompletionDroppedOverflowCount is read by tests and the health endpoint.
func CompletionDroppedOverflowCount() uint64 {
	return completionDroppedFull.Get()
}

// RegisterQueueDepth exposes the current queue length as a gauge.
func RegisterQueueDepth(depth func() int) {
	vm.GetOrCreateGauge(`completion_queue_depth`, func() float64 {
		return float64(depth())
	})
}

// UnknownGateway labels callbacks for gateway names that are not registered.
const UnknownGateway = "unknown"

// CallbackReceived counts a callback. gateway must already be a registered
// name or UnknownGateway.
func CallbackReceived(gateway, channel, result string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`payment_callbacks_total{gateway=%q,channel=%q,result=%q}`, gateway, channel, result)).Inc()
}

func IntentTransition(status string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`payment_intent_transitions_total{status=%q}`, status)).Inc()
}

func ReconciliationItems(pass, result string, n int) {
	if n <= 0 {
		return
	}
	vm.GetOrCreateCounter(fmt.Sprintf(`reconciliation_items_total{pass=%q,result=%q}`, pass, result)).Add(n)
}

func ReconciliationPassFailed(pass string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`reconciliation_pass_errors_total{pass=%q}`, pass)).Inc()
}
