package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Create a custom registry
var registry = prometheus.NewRegistry()

// Create a registerer that uses our registry
var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// Counter store latency buckets in milliseconds: local stores answer in
	// well under a millisecond, Redis round trips dominate the tail.
	counterLatencyBuckets = []float64{
		0.1, 0.25, 0.5,
		1, 2.5, 5,
		10, 25, 50,
		100, 250, 500,
	}

	DecisionTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_decisions_total",
			Help: "Authorization decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	CounterOpLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotagate_counter_op_latency_ms",
			Help:    "Counter store operation latency in milliseconds",
			Buckets: counterLatencyBuckets,
		},
		[]string{"op", "store"},
	)

	CounterOpErrors = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_counter_op_errors_total",
			Help: "Counter store operation failures (each one is a hard rejection)",
		},
		[]string{"op", "store"},
	)

	TierTieTotal = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "quotagate_tier_level_ties_total",
			Help: "Tier resolutions that hit an ambiguous level tie",
		},
	)

	KeyTransitionTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotagate_key_transitions_total",
			Help: "Lazy API key status transitions applied at authorize time",
		},
		[]string{"status"},
	)
)

func init() {
	registerer.MustRegister(collectors.NewGoCollector())
	registerer.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler for the engine's registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordDecision bumps the decision counter.
func RecordDecision(outcome, reason string) {
	DecisionTotal.WithLabelValues(outcome, reason).Inc()
}
