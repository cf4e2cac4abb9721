package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	RateLimitDenials  prometheus.Counter
	LicenseMutations  *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the service collectors on a fresh
// registry. A dedicated registry keeps test processes from colliding on
// the global default.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extdist",
			Name:      "requests_total",
			Help:      "Requests handled, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extdist",
			Name:      "cache_hits_total",
			Help:      "Response cache hits, by operation.",
		}, []string{"operation"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extdist",
			Name:      "cache_misses_total",
			Help:      "Response cache misses, by operation.",
		}, []string{"operation"}),
		RateLimitDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extdist",
			Name:      "rate_limit_denials_total",
			Help:      "Requests denied by the per-caller rate limiter.",
		}),
		LicenseMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extdist",
			Name:      "license_mutations_total",
			Help:      "License activations and deactivations, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "extdist",
			Name:      "request_duration_seconds",
			Help:      "Request latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		m.Requests,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitDenials,
		m.LicenseMutations,
		m.RequestDuration,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
