package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay results.
const (
	RelayPublished  = "published"
	RelayRetry      = "retry"
	RelayDeadLetter = "dead_letter"
)

// RelayMetrics tracks the outbox publisher's delivery of payment events.
type RelayMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewRelayMetrics registers the relay collectors on reg.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_relayed_total",
		Help: "Outbox payment events handled by the publisher, by event type and result.",
	}, []string{"event_type", "result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_events_publish_seconds",
		Help:    "Time spent waiting for Pub/Sub to acknowledge a payment event.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
	}, []string{"event_type"})
	reg.MustRegister(deliveries, latency)
	return &RelayMetrics{deliveries: deliveries, latency: latency}
}

// ObserveDelivery counts one handled event and, when it reached Pub/Sub, its publish latency.
func (m *RelayMetrics) ObserveDelivery(eventType, result string, publish time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.deliveries.WithLabelValues(eventType, normalizeLabel(result)).Inc()
	if publish > 0 {
		m.latency.WithLabelValues(eventType).Observe(publish.Seconds())
	}
}
