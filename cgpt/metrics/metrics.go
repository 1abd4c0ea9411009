package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffeegpt_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "coffeegpt_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	TurnCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffeegpt_turns_total",
			Help: "Completed chat turns by routing decision",
		},
		[]string{"decision"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coffeegpt_turn_duration_seconds",
			Help:    "Chat turn latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	AdapterCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffeegpt_adapter_calls_total",
			Help: "External service adapter calls by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)

	PhotoResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffeegpt_photo_resolutions_total",
			Help: "Photo reference resolutions by outcome",
		},
		[]string{"outcome"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coffeegpt_active_sessions",
			Help: "Number of live chat sessions",
		},
	)
)

// Outcome labels shared by the counters above.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeHit      = "hit"
	OutcomeNotFound = "not_found"
)
