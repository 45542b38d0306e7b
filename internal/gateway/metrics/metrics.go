// Package metrics exposes Prometheus collectors for the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts proxied requests by terminal status.
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts billed tokens by direction (input/output).
	TokensTotal *prometheus.CounterVec

	// CostMicroUSD accumulates computed cost in micro-USD.
	CostMicroUSD prometheus.Counter

	// UpstreamLatency observes end-to-end upstream call duration.
	UpstreamLatency prometheus.Histogram
}

// New builds the collector set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inference_proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by terminal status.",
		}, []string{"status"}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inference_proxy",
			Name:      "tokens_total",
			Help:      "Tokens attributed to completed requests by direction.",
		}, []string{"direction"}),
		CostMicroUSD: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "inference_proxy",
			Name:      "cost_micro_usd_total",
			Help:      "Computed usage cost in micro-USD.",
		}),
		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inference_proxy",
			Name:      "upstream_latency_seconds",
			Help:      "Upstream call latency from forwarding to terminal state.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Handler serves the /metrics endpoint for this collector set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.UpstreamLatency.Observe(latencySeconds)
}

// ObserveUsage records billed tokens and cost.
func (m *Metrics) ObserveUsage(inputTokens, outputTokens int, costMicroUSD int64) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	m.CostMicroUSD.Add(float64(costMicroUSD))
}
