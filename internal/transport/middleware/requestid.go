package middleware

import (
	"net/http"

	"github.com/frahmantamala/autoservice-payments/pkg/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

// RequestID attaches a trace id to the request logger and echoes it back.
// It reuses chi's request id when one is already set.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = middleware.GetReqID(r.Context())
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "trace_id", traceID)

		w.Header().Set(traceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
