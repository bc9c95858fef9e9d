// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResolveOutcomes counts link-resolution attempts by outcome:
	// hit, negative_hit, resolved, failed, rate_limited.
	ResolveOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embygate",
		Subsystem: "resolver",
		Name:      "resolve_total",
		Help:      "Link resolution attempts by outcome.",
	}, []string{"outcome"})

	// ResolveUpstreamSeconds observes the latency of actual upstream
	// resolution calls (cache hits never reach it).
	ResolveUpstreamSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "embygate",
		Subsystem: "resolver",
		Name:      "upstream_seconds",
		Help:      "Latency of storage-provider resolution calls.",
		Buckets:   prometheus.DefBuckets,
	})

	// GatewayRequests counts inbound requests by routing class.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embygate",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Inbound requests by routing class.",
	}, []string{"class"})

	// RelaysActive tracks open WebSocket relays.
	RelaysActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "embygate",
		Subsystem: "gateway",
		Name:      "ws_relays_active",
		Help:      "Currently open WebSocket relays.",
	})

	// CompositorPages counts composed pages by fulfilment strategy:
	// local, host_delegated, in_memory.
	CompositorPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embygate",
		Subsystem: "compositor",
		Name:      "pages_total",
		Help:      "Composed pages by pagination strategy.",
	}, []string{"strategy"})
)

// Handler serves the default registry; mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
