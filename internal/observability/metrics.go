package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors exposed by the service.
type Metrics struct {
	registry *prometheus.Registry

	OrchestrationsTotal   *prometheus.CounterVec
	OrchestrationDuration *prometheus.HistogramVec
	ProviderRequestsTotal *prometheus.CounterVec
	ProviderLatency       *prometheus.HistogramVec
	CacheOpsTotal         *prometheus.CounterVec
	ExtractionsTotal      *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		OrchestrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_orchestrations_total",
			Help: "Orchestrations by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		OrchestrationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_orchestration_duration_seconds",
			Help:    "Orchestration duration by strategy.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"strategy"}),
		ProviderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_provider_requests_total",
			Help: "Upstream provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_provider_latency_seconds",
			Help:    "Upstream provider request latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		CacheOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_cache_ops_total",
			Help: "Cache operations by cache name and result (hit, miss, set).",
		}, []string{"cache", "result"}),
		ExtractionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_extractions_total",
			Help: "Memory extraction outcomes.",
		}, []string{"status"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOrchestration records one orchestration outcome.
func (m *Metrics) ObserveOrchestration(strategy, outcome string, elapsed time.Duration) {
	m.OrchestrationsTotal.WithLabelValues(strategy, outcome).Inc()
	m.OrchestrationDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveProvider records one upstream provider call.
func (m *Metrics) ObserveProvider(providerName, outcome string, elapsed time.Duration) {
	m.ProviderRequestsTotal.WithLabelValues(providerName, outcome).Inc()
	m.ProviderLatency.WithLabelValues(providerName).Observe(elapsed.Seconds())
}
