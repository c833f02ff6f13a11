package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for payment attempts.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeUnreachable = "unreachable"
	OutcomeReplayed    = "replayed"
	OutcomeRejected    = "rejected"
)

// PaymentMetrics records orchestrator outcomes and gateway latency.
type PaymentMetrics struct {
	attempts       *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	reconciliation *prometheus.CounterVec
	inFlightWaits  prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Payment requests handled by the orchestrator, by entity type and outcome.",
	}, []string{"entity_type", "outcome"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	reconciliation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_required_total",
		Help: "Charges that succeeded at the gateway but could not be finalized locally.",
	}, []string{"entity_type"})
	inFlightWaits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_inflight_duplicates_total",
		Help: "Duplicate requests that found the original attempt still pending.",
	})
	reg.MustRegister(attempts, gatewayLatency, reconciliation, inFlightWaits)
	return &PaymentMetrics{
		attempts:       attempts,
		gatewayLatency: gatewayLatency,
		reconciliation: reconciliation,
		inFlightWaits:  inFlightWaits,
	}
}

// IncAttempt counts a finished payment request.
func (m *PaymentMetrics) IncAttempt(entityType, outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(entityType), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records the duration of a gateway call.
func (m *PaymentMetrics) ObserveGateway(operation, outcome string, duration time.Duration) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Observe(duration.Seconds())
}

// IncReconciliation counts a ledger row flagged for operator reconciliation.
func (m *PaymentMetrics) IncReconciliation(entityType string) {
	if m == nil || m.reconciliation == nil {
		return
	}
	m.reconciliation.WithLabelValues(normalizeLabel(entityType)).Inc()
}

// IncInFlightDuplicate counts a duplicate that had to wait on a pending attempt.
func (m *PaymentMetrics) IncInFlightDuplicate() {
	if m == nil || m.inFlightWaits == nil {
		return
	}
	m.inFlightWaits.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
