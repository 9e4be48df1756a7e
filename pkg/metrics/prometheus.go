// Package metrics provides Prometheus metrics for the rating engine and its
// HTTP adapter.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus collectors. A nil *Manager is valid and
// records nothing.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	deltaBuckets   []float64
	enabled        bool
	constLabels    map[string]string
	registry       prometheus.Registerer

	// Rating engine
	comparisonsProcessed prometheus.Counter
	comparisonsRejected  prometheus.Counter
	ratingDelta          prometheus.Histogram
	itemsTracked         prometheus.Gauge

	// Tier computation
	tierComputations    *prometheus.CounterVec
	tierComputeDuration *prometheus.HistogramVec
	ambiguousPlacements prometheus.Gauge

	// HTTP adapter
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry the
// collectors are registered on a private registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "tierelo",
		subsystem:      "engine",
		latencyBuckets: prometheus.DefBuckets,
		deltaBuckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		enabled:        true,
		constLabels:    make(map[string]string),
		registry:       prometheus.NewRegistry(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.comparisonsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "comparisons_processed_total",
		Help:        "Total number of comparisons applied to the ratings",
		ConstLabels: labels,
	})

	m.comparisonsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "comparisons_rejected_total",
		Help:        "Total number of malformed comparisons skipped",
		ConstLabels: labels,
	})

	m.ratingDelta = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rating_delta_points",
		Help:        "Absolute rating change per item per comparison",
		Buckets:     m.deltaBuckets,
		ConstLabels: labels,
	})

	m.itemsTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "items_tracked",
		Help:        "Number of items currently rated",
		ConstLabels: labels,
	})

	m.tierComputations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tier_computations_total",
		Help:        "Tier computations by operation",
		ConstLabels: labels,
	}, []string{"operation"})

	m.tierComputeDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tier_compute_duration_seconds",
		Help:        "Time spent computing boundaries, tier maps and reports",
		Buckets:     m.latencyBuckets,
		ConstLabels: labels,
	}, []string{"operation"})

	m.ambiguousPlacements = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "ambiguous_placements",
		Help:        "Items whose last confidence report proposed an alternative tier",
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "Total number of HTTP requests",
		ConstLabels: labels,
	}, []string{"path", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "HTTP request latency",
		Buckets:     m.latencyBuckets,
		ConstLabels: labels,
	}, []string{"path", "method", "status"})
}

func (m *Manager) active() bool {
	return m != nil && m.enabled
}

// RecordProcessed counts applied comparisons
func (m *Manager) RecordProcessed(n int) {
	if m.active() && n > 0 {
		m.comparisonsProcessed.Add(float64(n))
	}
}

// RecordRejected counts skipped comparisons
func (m *Manager) RecordRejected(n int) {
	if m.active() && n > 0 {
		m.comparisonsRejected.Add(float64(n))
	}
}

// ObserveRatingDelta records the size of one rating change
func (m *Manager) ObserveRatingDelta(delta float64) {
	if m.active() {
		m.ratingDelta.Observe(math.Abs(delta))
	}
}

// SetItems publishes the number of rated items
func (m *Manager) SetItems(n int) {
	if m.active() {
		m.itemsTracked.Set(float64(n))
	}
}

// ObserveTierComputation records one boundaries, tiers or confidence run
func (m *Manager) ObserveTierComputation(operation string, elapsed time.Duration) {
	if m.active() {
		m.tierComputations.WithLabelValues(operation).Inc()
		m.tierComputeDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	}
}

// SetAmbiguous publishes the ambiguous placement count of the latest report
func (m *Manager) SetAmbiguous(n int) {
	if m.active() {
		m.ambiguousPlacements.Set(float64(n))
	}
}

// RecordHTTPRequest records one served request
func (m *Manager) RecordHTTPRequest(path, method, status string, elapsed time.Duration) {
	if m.active() {
		m.httpRequests.WithLabelValues(path, method, status).Inc()
		m.httpRequestDuration.WithLabelValues(path, method, status).Observe(elapsed.Seconds())
	}
}
