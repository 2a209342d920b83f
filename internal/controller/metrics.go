package controller

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// reconcileBuckets spans quick no-op updates up to slow multi-backend fetches
var reconcileBuckets = []float64{0.01, 0.1, 0.25, 0.5, 1, 5, 15, 60}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds the reconciler's Prometheus collectors
type Metrics struct {
	reconciliations prometheus.Counter
	failures        prometheus.Counter
	creates         prometheus.Counter
	updates         prometheus.Counter
	duration        prometheus.Histogram
	lastEvent       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reconciliations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsecrets_controller_reconciliations_total",
			Help: "Total number of reconciliations",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsecrets_controller_reconciliation_errors_total",
			Help: "Total number of failed reconciliations",
		}),
		creates: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsecrets_controller_create_counts_total",
			Help: "Total number of Secrets created",
		}),
		updates: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsecrets_controller_update_counts_total",
			Help: "Total number of Secrets patched with new content",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsecrets_controller_reconcile_duration_seconds",
			Help:    "The duration of reconcile to complete in seconds",
			Buckets: reconcileBuckets,
		}),
		lastEvent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rsecrets_controller_last_event_timestamp_seconds",
			Help: "Unix time of the last reconciliation request",
		}),
	}
}

// DefaultMetrics returns the collectors registered on the controller-runtime
// registry, which the manager serves on /metrics.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics(ctrlmetrics.Registry)
	})
	return defaultMetrics
}

// RecordEvent counts a reconciliation request received at t
func (m *Metrics) RecordEvent(t time.Time) {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
	m.lastEvent.Set(float64(t.Unix()))
}

// RecordFailure counts a failed reconciliation
func (m *Metrics) RecordFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

// RecordCreate counts a created Secret
func (m *Metrics) RecordCreate() {
	if m == nil {
		return
	}
	m.creates.Inc()
}

// RecordUpdate counts a patched Secret
func (m *Metrics) RecordUpdate() {
	if m == nil {
		return
	}
	m.updates.Inc()
}

// ObserveDuration records how long a reconciliation took
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
