package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AuthorizationsCreated  prometheus.Counter
	AuthorizationsReplayed prometheus.Counter
	IdempotencyConflicts   prometheus.Counter
	DispatchesSent         *prometheus.CounterVec
	PollOutcomes           *prometheus.CounterVec
	OutboxPublished        prometheus.Counter
	OutboxPublishFailures  prometheus.Counter
	OutboxDeadLettered     prometheus.Counter
	OutboxPending          prometheus.Gauge
	HTTPRequestDuration    *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests use it with a
// fresh registry so repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthorizationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "authhub_authorizations_created_total",
			Help: "Total number of authorizations created.",
		}),
		AuthorizationsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "authhub_authorizations_replayed_total",
			Help: "Total number of create commands answered from the idempotency ledger.",
		}),
		IdempotencyConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "authhub_idempotency_conflicts_total",
			Help: "Total number of idempotency key conflicts detected.",
		}),
		DispatchesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_dispatches_sent_total",
			Help: "Total dispatches sent, by dispatch type and technical status.",
		}, []string{"dispatch_type", "technical_status"}),
		PollOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_poll_outcomes_total",
			Help: "Total poll commands, by resulting authorization status.",
		}, []string{"status"}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "authhub_outbox_published_total",
			Help: "Total outbox events published downstream.",
		}),
		OutboxPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "authhub_outbox_publish_failures_total",
			Help: "Total outbox publish attempts that failed.",
		}),
		OutboxDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "authhub_outbox_dead_lettered_total",
			Help: "Total outbox events moved to the dead-letter table.",
		}),
		OutboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authhub_outbox_pending",
			Help: "Outbox events awaiting delivery, as of the last relay pass.",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authhub_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}
