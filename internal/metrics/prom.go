package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests and multiple binaries never collide on
// the global default one.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	clientCalls   *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawpal_relay_requests_total",
				Help: "Relay requests handled by the forwarder",
			},
			[]string{"outcome"},
		),
		modelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pawpal_model_request_duration_seconds",
				Help:    "Latency of the hosted model call",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"model", "has_image"},
		),
		clientCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pawpal_relay_client_calls_total",
				Help: "Relay calls issued by the client caller",
			},
			[]string{"outcome"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pawpal_relay_rate_limited_total",
				Help: "Requests rejected by the per-token rate limit",
			},
		),
	}

	m.registry.MustRegister(
		m.relayRequests,
		m.modelDuration,
		m.clientCalls,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRelay counts a forwarder response by its outcome (ok or an error kind).
func (m *Metrics) RecordRelay(outcome string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveModel(model string, hasImage bool, d time.Duration) {
	if m == nil {
		return
	}
	img := "false"
	if hasImage {
		img = "true"
	}
	m.modelDuration.WithLabelValues(model, img).Observe(d.Seconds())
}

func (m *Metrics) RecordClientCall(outcome string) {
	if m == nil {
		return
	}
	m.clientCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
