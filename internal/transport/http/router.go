// Package httptransport is the thin HTTP layer. Handlers decode requests,
// delegate to the orchestrator and relay, and translate domain errors;
// business logic stays in the services.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authhub/internal/authorization/service"
	"authhub/internal/outbox/relay"
	"authhub/internal/platform/metrics"
	"authhub/internal/platform/middleware"
)

// Handler wires the HTTP surface to the orchestrator and the outbox relay.
type Handler struct {
	service *service.Service
	relay   *relay.Relay
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(svc *service.Service, rel *relay.Relay, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		service: svc,
		relay:   rel,
		logger:  logger,
		metrics: m,
	}
}

// NewRouter assembles the full route tree. The authorization surface
// requires tenant resolution; the operational surface additionally requires
// bearer-token auth.
func NewRouter(h *Handler, validator middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logging(h.logger))
	if h.metrics != nil {
		r.Use(middleware.Metrics(h.metrics))
	}

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/authorizations", func(r chi.Router) {
		r.Use(middleware.Tenant)
		r.Post("/", h.HandleCreate)
		r.Get("/{authorizationID}", h.HandleGetByID)
		r.Get("/{authorizationID}/status", h.HandleGetStatus)
		r.Post("/{authorizationID}/poll", h.HandlePoll)
		r.Post("/{authorizationID}/cancel", h.HandleCancel)
	})

	r.Route("/v1/operations/outbox", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, h.logger))
		r.Get("/", h.HandleOutboxStats)
		r.Post("/process", h.HandleOutboxProcess)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Tenant)
			r.Get("/dead-letters", h.HandleOutboxDeadLetters)
			r.Post("/dead-letters/requeue", h.HandleOutboxRequeue)
		})
	})

	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
