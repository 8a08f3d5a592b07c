package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iammorganparry/wagate/internal/auth"
	"github.com/iammorganparry/wagate/internal/events"
	"github.com/iammorganparry/wagate/internal/metrics"
	"github.com/iammorganparry/wagate/internal/store"
	"github.com/iammorganparry/wagate/internal/supervisor"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	mgr *supervisor.Manager,
	hub *events.Hub,
	verifier *auth.Verifier,
	corsOrigins []string,
	logger *slog.Logger,
) *chi.Mux {
	metrics.RegisterMetrics()

	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS(corsOrigins))
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))
	r.Use(Metrics)

	healthH := NewHealthHandler(db, mgr)
	sessionH := NewSessionHandler(mgr, logger)
	streamH := events.NewStreamHandler(hub, corsOrigins, logger)

	// Unauthenticated routes
	r.Get("/ping", healthH.Ping)
	r.Get("/health", healthH.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Tenant routes
	r.Group(func(r chi.Router) {
		r.Use(TenantAuth(verifier))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionH.List)
			r.Post("/connect", sessionH.Connect)
			r.Get("/latest-qr", sessionH.LatestQR)
			r.Get("/{id}", sessionH.Get)
			r.Get("/{id}/qr", sessionH.QR)
			r.Post("/{id}/persist", sessionH.Persist)
		})

		r.Method(http.MethodGet, "/events", streamH)
	})

	return r
}
