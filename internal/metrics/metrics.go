// Package metrics exposes the Prometheus collectors for ledger calls,
// verification, reconciliation and webhook traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ledgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultation",
			Subsystem: "ledger",
			Name:      "rpc_calls_total",
			Help:      "Total number of ledger JSON-RPC attempts.",
		},
		[]string{"method", "outcome"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "consultation",
			Subsystem: "ledger",
			Name:      "rpc_duration_seconds",
			Help:      "Latency of ledger JSON-RPC attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"method"},
	)

	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultation",
			Subsystem: "ledger",
			Name:      "verifications_total",
			Help:      "Transaction verification outcomes.",
		},
		[]string{"result"},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultation",
			Subsystem: "settlement",
			Name:      "reconciliations_total",
			Help:      "Payment reconciliation outcomes.",
		},
		[]string{"result"},
	)

	webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultation",
			Subsystem: "settlement",
			Name:      "webhooks_total",
			Help:      "Payment webhooks received by mapped status.",
		},
		[]string{"status"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consultation",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session lifecycle transitions applied.",
		},
		[]string{"action"},
	)
)

func init() {
	Registry.MustRegister(
		ledgerCalls,
		ledgerDuration,
		verifications,
		reconciliations,
		webhooks,
		transitions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordLedgerCall records one JSON-RPC attempt.  outcome is "ok",
// "rpc_error" or "transport_error".
func RecordLedgerCall(method, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	ledgerCalls.WithLabelValues(method, outcome).Inc()
	ledgerDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordVerification counts a verification result label such as "valid",
// "mismatch" or an error kind.
func RecordVerification(result string) {
	verifications.WithLabelValues(result).Inc()
}

// RecordReconciliation counts a reconciliation outcome.
func RecordReconciliation(result string) {
	reconciliations.WithLabelValues(result).Inc()
}

// RecordWebhook counts a webhook by the payment status it mapped to.
func RecordWebhook(status string) {
	webhooks.WithLabelValues(status).Inc()
}

// RecordTransition counts an applied lifecycle action.
func RecordTransition(action string) {
	transitions.WithLabelValues(action).Inc()
}
