package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks the number of outbound calls to the relay API.
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of relay API requests made (by endpoint, method and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Measures duration of relay API requests.
	RelayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_request_duration_seconds",
			Help:    "Duration of relay API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// Status poll attempts by flow.
	PollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_poll_attempts_total",
			Help: "Number of status poll attempts.",
		},
		[]string{"flow"},
	)

	// Bridges that reached a terminal status, or timed out.
	BridgeOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridge_outcomes_total",
			Help: "Bridges by flow and final outcome.",
		},
		[]string{"flow", "outcome"}, // success | failure | refund | refunded | timeout
	)

	BridgesSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridges_submitted_total",
			Help: "Bridges submitted by flow and result.",
		},
		[]string{"flow", "result"},
	)

	// Requests currently being tracked in the background.
	TrackedRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_tracked_requests",
			Help: "Number of requests with an active background status poll.",
		},
	)

	// Tracks event bus messages published by subject and result.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_messages_total",
			Help: "Total number of outbound event messages.",
		},
		[]string{"transport", "subject", "result"}, // result = "ok" | "error"
	)

	EventPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_publish_latency_seconds",
			Help:    "Time taken to publish outbound events.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	// Tracks cache hits and misses for per-client secrets.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_stream_subscribers",
			Help: "Open websocket status subscriptions.",
		},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_errors_total",
			Help: "Count of adapter-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful poll time (seconds since epoch).
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adapter_last_poll_timestamp",
			Help: "Timestamp (unix seconds) of the last successful status poll or recovery sweep.",
		},
		[]string{"component"},
	)
)

// ObserveRelayRequest is an httpclient observer for the relay executor.
func ObserveRelayRequest(method, path string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	RelayRequestsTotal.WithLabelValues(path, method, code).Inc()
	RelayRequestDuration.WithLabelValues(path, method).Observe(elapsed.Seconds())
}

func IncPollAttempt(flow string) {
	PollAttemptsTotal.WithLabelValues(flow).Inc()
}

func IncOutcome(flow, outcome string) {
	BridgeOutcomesTotal.WithLabelValues(flow, outcome).Inc()
}

func IncSubmitted(flow, result string) {
	BridgesSubmittedTotal.WithLabelValues(flow, result).Inc()
}

func IncEvent(transport, subject, result string) {
	EventsPublishedTotal.WithLabelValues(transport, subject, result).Inc()
}

func ObservePublish(transport string, start time.Time) {
	EventPublishLatency.WithLabelValues(transport).Observe(time.Since(start).Seconds())
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastPoll(component string, t time.Time) {
	LastPollTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
