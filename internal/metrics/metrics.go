// Package metrics provides Prometheus instrumentation for the payment engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pagera",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsInitiatedTotal counts initiation attempts by provider and outcome.
	PaymentsInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "payments_initiated_total",
			Help:      "Payment initiations by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// WebhookEventsTotal counts webhook deliveries by provider and result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook deliveries by provider and result.",
		},
		[]string{"provider", "result"},
	)

	// WebhookReplaysTotal counts deduplicated redeliveries.
	WebhookReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "webhook_replays_total",
			Help:      "Webhook redeliveries answered from the idempotency ledger.",
		},
		[]string{"provider"},
	)

	// OverpaymentsTotal counts settlements rejected for exceeding the entry amount.
	OverpaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "overpayments_total",
			Help:      "Settlement events rejected because they would overpay the entry.",
		},
		[]string{"provider"},
	)

	// OrphanInvoicesTotal counts webhook events with no matching ledger entry.
	OrphanInvoicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "orphan_invoices_total",
			Help:      "Webhook events referencing an invoice with no ledger entry.",
		},
		[]string{"provider"},
	)

	// LedgerTransitionsTotal counts applied state transitions.
	LedgerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagera",
			Name:      "ledger_transitions_total",
			Help:      "Applied ledger status transitions by target status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentsInitiatedTotal,
		WebhookEventsTotal,
		WebhookReplaysTotal,
		OverpaymentsTotal,
		OrphanInvoicesTotal,
		LedgerTransitionsTotal,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
