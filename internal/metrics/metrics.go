package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts provider callbacks by provider and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradesignal",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total payment webhook requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradesignal",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// TierTransitionsTotal counts tier changes caused by payment events.
	TierTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradesignal",
		Subsystem: "billing",
		Name:      "tier_transitions_total",
		Help:      "Tier changes by provider and direction.",
	}, []string{"provider", "from", "to"})

	// CreditConsumeTotal counts ledger consume attempts by result.
	CreditConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradesignal",
		Subsystem: "ledger",
		Name:      "consume_total",
		Help:      "Credit consume attempts by result (consumed, unlimited, exhausted, refunded).",
	}, []string{"result"})

	// EntitlementDecisionsTotal counts gateway decisions.
	EntitlementDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradesignal",
		Subsystem: "gateway",
		Name:      "decisions_total",
		Help:      "Entitlement decisions by feature and result.",
	}, []string{"feature", "result"})

	// UpstreamRequestDuration tracks calls to the analysis engine and payment APIs.
	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradesignal",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Outbound request duration by upstream and result.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"upstream", "result"})

	// HTTPRequestsTotal counts handled requests by route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradesignal",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradesignal",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// MaintenanceRowsTotal counts rows touched by the maintenance job.
	MaintenanceRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradesignal",
		Subsystem: "jobs",
		Name:      "maintenance_rows_total",
		Help:      "Rows affected by maintenance tasks.",
	}, []string{"task"})
)
