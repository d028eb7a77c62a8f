// Package adaptive derives rolling traffic features from the metric
// registry and tunes the circuit breaker's failure threshold from them.
// Everything here is advisory: the serve path never depends on it.
package adaptive

import "math"

// Features is one rolling-window view of gateway traffic.
type Features struct {
	// FailureRatio is failed requests over total requests in the window.
	FailureRatio float64

	// FailureSlope is the per-sample trend of failure deltas.
	FailureSlope float64

	// P95LatencyMS is the most recent p95 latency estimate in milliseconds.
	P95LatencyMS float64

	// LatencySlope is the per-sample trend of the p95 estimates.
	LatencySlope float64

	// TimeoutRate is upstream timeouts over total requests in the window.
	TimeoutRate float64

	// Burstiness is stddev/mean of the failure deltas.
	Burstiness float64

	// FlapRate is circuit open transitions per window slot.
	FlapRate float64
}

// Controller maps features onto a breaker failure threshold within
// [Min, Max] around Base.
type Controller struct {
	Base float64
	Min  float64
	Max  float64
}

// NewController creates a controller with the given bounds. Zero values
// fall back to the defaults 0.7 / 0.4 / 0.9.
func NewController(base, min, max float64) *Controller {
	if base == 0 {
		base = 0.7
	}
	if min == 0 {
		min = 0.4
	}
	if max == 0 {
		max = 0.9
	}
	return &Controller{Base: base, Min: min, Max: max}
}

// Threshold computes the breaker threshold for the given features. ok is
// false when no features are available yet, in which case the base
// threshold is returned.
func (c *Controller) Threshold(f Features, ok bool) float64 {
	t := c.Base
	if !ok {
		return t
	}

	// Timeout pressure: lower tolerance.
	if f.TimeoutRate > 0.3 {
		t -= 0.10
	}

	// Latency rising: act earlier.
	if f.LatencySlope > 0 {
		t -= 0.10
	}

	// Circuit flapped within the window: lower tolerance further.
	if f.FlapRate > 0 {
		t -= 0.15
	}

	// Quiet window: relax toward the maximum.
	if f.FailureRatio == 0 && f.LatencySlope <= 0 {
		t += 0.10
	}

	t = math.Round(t*100) / 100
	return math.Max(c.Min, math.Min(c.Max, t))
}
