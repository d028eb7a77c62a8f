// Package metrics implements the gateway's metric aggregation engine: a
// concurrent registry of lazily created counter, gauge and histogram series
// keyed by metric name and label set.
package metrics

// Metric names used throughout the gateway.
const (
	// Request metrics.
	MetricRequests  = "gateway_requests_total"
	MetricLatencyMS = "gateway_request_latency_ms"

	// Upstream failure metrics.
	MetricUpstreamTimeouts = "gateway_upstream_timeouts_total"
	MetricUpstreamErrors   = "gateway_upstream_errors_total"

	// Circuit breaker metrics.
	MetricCircuitState          = "gateway_circuit_state"
	MetricCircuitOpened         = "gateway_circuit_open_total"
	MetricCircuitShortCircuited = "gateway_circuit_short_circuited_total"
	MetricCircuitTracked        = "gateway_circuit_requests_tracked_total"
	MetricCircuitFailureRatio   = "gateway_circuit_failure_ratio"
)

// Label keys for the request metrics.
const (
	LabelPath   = "path"
	LabelStatus = "status"
	LabelMethod = "method"
)

// StatusError is the distinguished status label value recorded when the
// upstream call failed at the transport level, so failed forwards stay
// visible as their own series instead of blending into real 5xx responses.
const StatusError = "error"

// DefaultLatencyBuckets are the default latency bucket upper bounds in
// milliseconds. A +Inf bucket is always implied.
var DefaultLatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// DefaultRatioBuckets are the default bucket bounds for ratio-valued
// histograms such as the circuit failure ratio.
var DefaultRatioBuckets = []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1}
