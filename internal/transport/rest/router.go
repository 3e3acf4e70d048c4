package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/autoservice-payments/internal/metrics"
	"github.com/frahmantamala/autoservice-payments/internal/payment"
	"github.com/frahmantamala/autoservice-payments/internal/transport/middleware"
	"github.com/frahmantamala/autoservice-payments/internal/transport/swagger"
)

type RouteOptions struct {
	// MockEnabled registers the mock gateway endpoint.
	MockEnabled bool
	// MetricsPath serves Prometheus exposition when non-empty.
	MetricsPath string
	OpenAPIFile string
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, queue QueueStats, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, opts RouteOptions, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, queue)

	if opts.OpenAPIFile == "" {
		opts.OpenAPIFile = "./api/openapi.yml"
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, opts.OpenAPIFile)
	})
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	if opts.MetricsPath != "" {
		router.Handle(opts.MetricsPath, metrics.Handler())
	}

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if paymentHandler != nil {
			r.Route("/payment-intents", func(pr chi.Router) {
				pr.Post("/", paymentHandler.CreateIntent)
				pr.Get("/{code}", paymentHandler.GetIntent)
			})

			if opts.MockEnabled {
				r.Post("/payments/mock/{paymentCode}/complete", paymentHandler.MockComplete)
			}
		}

		if webhookHandler != nil {
			r.Route("/payments/{gateway}", func(gr chi.Router) {
				gr.Get("/return", webhookHandler.HandleReturn)
				gr.Get("/ipn", webhookHandler.HandleIPN)
				gr.Post("/ipn", webhookHandler.HandleIPN)
			})
		}
	})
}
