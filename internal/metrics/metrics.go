package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks the number of outbound calls to the relayer.
	RelayerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_api_requests_total",
			Help: "Total number of relayer API requests made (by endpoint, method and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Measures duration of relayer API requests.
	RelayerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_api_request_duration_seconds",
			Help:    "Duration of relayer API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// Counts quotes and bundles rejected by the validator, by failed check.
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darkpool_validation_failures_total",
			Help: "Quotes or bundles rejected by client-side validation.",
		},
		[]string{"kind", "check"},
	)

	// Counts match flow state transitions.
	FlowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "darkpool_flow_transitions_total",
			Help: "Match flow state transitions.",
		},
		[]string{"from", "to"},
	)

	// Counts websocket messages received, by event.
	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_stream_messages_total",
			Help: "Websocket messages received from the relayer.",
		},
		[]string{"event"},
	)

	// Tracks event bus messages by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks cache hits and misses for secrets / credentials.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_errors_total",
			Help: "Count of adapter-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful sweep of expired flows (seconds since epoch).
	LastSweepTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adapter_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last successful flow sweep.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncRelayerRequest(endpoint, method, status string) {
	RelayerRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func IncValidationFailure(kind, check string) {
	ValidationFailures.WithLabelValues(kind, check).Inc()
}

func IncFlowTransition(from, to string) {
	FlowTransitions.WithLabelValues(from, to).Inc()
}

func IncStreamMessage(event string) {
	StreamMessages.WithLabelValues(event).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastSweep(component string, t time.Time) {
	LastSweepTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
