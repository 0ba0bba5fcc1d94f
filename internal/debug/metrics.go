// Package debug serves operational side endpoints: Prometheus metrics,
// pprof, and a health probe. The listener is optional and never touches the
// editor protocol channel.
package debug

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server's instrumentation on a private registry. A nil
// *Metrics is valid and records nothing, so call sites stay unconditional.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	invokeLatency *prometheus.HistogramVec
	invokeErrors  *prometheus.CounterVec
	openDocs      prometheus.Gauge
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daxls",
				Name:      "requests_total",
				Help:      "Editor requests handled, by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		invokeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "daxls",
				Name:      "engine_invoke_seconds",
				Help:      "Engine call latency in seconds, by method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		invokeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daxls",
				Name:      "engine_invoke_errors_total",
				Help:      "Engine call failures, by method.",
			},
			[]string{"method"},
		),
		openDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "daxls",
				Name:      "open_documents",
				Help:      "Documents currently open.",
			},
		),
	}
	m.registry.MustRegister(m.requests, m.invokeLatency, m.invokeErrors, m.openDocs)
	return m
}

// ObserveRequest records one handled editor request.
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

// ObserveInvoke records one engine call and its outcome.
func (m *Metrics) ObserveInvoke(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.invokeLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.invokeErrors.WithLabelValues(method).Inc()
	}
}

// SetOpenDocuments records the current open document count.
func (m *Metrics) SetOpenDocuments(n int) {
	if m == nil {
		return
	}
	m.openDocs.Set(float64(n))
}

// Registry returns the private registry, nil on a nil receiver.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
