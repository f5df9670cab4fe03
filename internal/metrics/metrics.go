// Package metrics registers the Prometheus metrics used by the router.
// The collectors are registered with the default registry on import; the
// server mounts promhttp.Handler() at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Forward outcomes used as the "outcome" label of ForwardRequests.
const (
	OutcomeUnknownModel = "unknown_model"
	OutcomeForwardError = "forward_error"
	OutcomeRelayed      = "relayed"
)

// Discovery metrics.
var (
	// DiscoveryCycles counts completed discovery cycles.
	DiscoveryCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrouter_discovery_cycles_total",
			Help: "Total number of completed discovery cycles.",
		},
	)

	// DiscoveryDuration observes the wall time of a full discovery cycle.
	DiscoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmrouter_discovery_duration_seconds",
			Help:    "Duration of a discovery cycle in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// DiscoveryErrors counts failed backend queries, labelled by backend name
	// and endpoint ("models", "tags").
	DiscoveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_discovery_errors_total",
			Help: "Total failed discovery queries per backend and endpoint.",
		},
		[]string{"backend", "endpoint"},
	)

	// ModelsInstalled is the size of the model list after the last cycle.
	ModelsInstalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmrouter_models_installed",
			Help: "Number of models installed by the last discovery cycle.",
		},
	)

	// TagsInstalled is the size of the tag list after the last cycle.
	TagsInstalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmrouter_tags_installed",
			Help: "Number of model tags installed by the last discovery cycle.",
		},
	)
)

// Forwarding metrics.
var (
	// ForwardRequests counts inbound completion requests labelled by the
	// resolved backend (empty when unrouted), the endpoint and the outcome.
	ForwardRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_forward_requests_total",
			Help: "Total completion requests handled by the forwarding gateway.",
		},
		[]string{"backend", "endpoint", "outcome"},
	)

	// ForwardDuration observes the backend round trip, including body buffering.
	ForwardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_forward_duration_seconds",
			Help:    "Backend round-trip duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "endpoint"},
	)
)
