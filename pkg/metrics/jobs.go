package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records metadata for the maintenance worker's scheduled jobs.
type JobMetrics struct {
	duration              *prometheus.HistogramVec
	success               *prometheus.CounterVec
	failure               *prometheus.CounterVec
	reconciliationBacklog *prometheus.GaugeVec
}

// NewJobMetrics registers the job metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maintenance_job_duration_seconds",
		Help:    "Duration of maintenance jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_job_success_total",
		Help: "Successful maintenance job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "maintenance_job_failure_total",
		Help: "Failed maintenance job executions.",
	}, []string{"job"})
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payment_reconciliation_backlog",
		Help: "Ledger records currently flagged for operator reconciliation, by entity type.",
	}, []string{"entity_type"})
	reg.MustRegister(duration, success, failure, backlog)
	return &JobMetrics{
		duration:              duration,
		success:               success,
		failure:               failure,
		reconciliationBacklog: backlog,
	}
}

// ObserveDuration records the duration for the named job.
func (m *JobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *JobMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *JobMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// SetReconciliationBacklog replaces the backlog gauge with counts.
// Entity types missing from counts are reset to zero.
func (m *JobMetrics) SetReconciliationBacklog(counts map[string]int) {
	if m == nil || m.reconciliationBacklog == nil {
		return
	}
	m.reconciliationBacklog.Reset()
	for entityType, n := range counts {
		m.reconciliationBacklog.WithLabelValues(normalizeLabel(entityType)).Set(float64(n))
	}
}
