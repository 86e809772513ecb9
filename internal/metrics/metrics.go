// Package metrics exposes the Prometheus collectors for the HTTP surface and
// the membership lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all collectors behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	inFlight        prometheus.Gauge
	transitions     *prometheus.CounterVec
	capacityRejects prometheus.Counter
	counterDrift    prometheus.Counter
}

// New creates the metric set on a fresh registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by service, method, path and status.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_transitions_total",
			Help:      "Application status transitions by resulting status.",
		}, []string{"status"}),
		capacityRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_capacity_rejections_total",
			Help:      "Approvals rejected because the study was full.",
		}),
		counterDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_counter_drift_total",
			Help:      "Participant counters found out of sync by the reconciler.",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.inFlight,
		m.transitions,
		m.capacityRejects,
		m.counterDrift,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// IncrementInFlight marks a request as started.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight marks a request as finished.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordTransition records a successful application status transition.
func (m *Metrics) RecordTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

// RecordCapacityRejection records an approval refused for capacity.
func (m *Metrics) RecordCapacityRejection() {
	m.capacityRejects.Inc()
}

// RecordCounterDrift records one repaired participant counter.
func (m *Metrics) RecordCounterDrift() {
	m.counterDrift.Inc()
}
