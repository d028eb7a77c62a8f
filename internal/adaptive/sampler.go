package adaptive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/phantomapi/gateway/internal/breaker"
	"github.com/phantomapi/gateway/internal/metrics"
)

// maxLatencyMS caps the p95 estimate when it falls in the +Inf bucket,
// keeping features finite.
const maxLatencyMS = 5000.0

// Config holds the sampler tuning knobs.
type Config struct {
	// Registry is the metric registry to sample. Required.
	Registry *metrics.Registry

	// Breaker, if set, has its threshold retuned after every sample.
	Breaker *breaker.Breaker

	// Controller maps features to thresholds; nil means NewController
	// defaults.
	Controller *Controller

	// Interval between samples. Defaults to one second.
	Interval time.Duration

	// Window is how many samples the rolling windows hold. Defaults to 30.
	Window int

	// Logger; nil means no-op.
	Logger *zap.Logger
}

// Sampler walks registry snapshots on a fixed interval and keeps rolling
// windows of per-interval deltas. Safe for concurrent use: Run owns the
// sampling loop while Features may be read from any goroutine.
type Sampler struct {
	registry   *metrics.Registry
	breaker    *breaker.Breaker
	controller *Controller
	interval   time.Duration
	window     int
	logger     *zap.Logger

	mu       sync.Mutex
	totals   []float64
	failures []float64
	timeouts []float64
	p95s     []float64
	flaps    []float64
	last     map[string]float64
}

// New creates a sampler from cfg.
func New(cfg Config) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 30
	}
	if cfg.Controller == nil {
		cfg.Controller = NewController(0, 0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Sampler{
		registry:   cfg.Registry,
		breaker:    cfg.Breaker,
		controller: cfg.Controller,
		interval:   cfg.Interval,
		window:     cfg.Window,
		logger:     cfg.Logger,
		last:       make(map[string]float64),
	}
}

// Run samples until ctx is canceled, retuning the breaker threshold after
// each sample when a breaker is attached.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
			if s.breaker == nil {
				continue
			}
			f, ok := s.Features()
			threshold := s.controller.Threshold(f, ok)
			s.breaker.SetThreshold(threshold)
			s.logger.Debug("breaker threshold retuned",
				zap.Float64("threshold", threshold),
				zap.Float64("failureRatio", f.FailureRatio),
				zap.Float64("p95LatencyMs", f.P95LatencyMS),
			)
		}
	}
}

// Sample takes one registry snapshot and pushes the per-interval deltas
// into the rolling windows.
func (s *Sampler) Sample() {
	total := s.counterTotal(metrics.MetricRequests, nil)
	failed := s.counterTotal(metrics.MetricRequests, func(labels metrics.Labels) bool {
		st := labels[metrics.LabelStatus]
		return st == "5xx" || st == metrics.StatusError
	})
	timeouts := s.counterTotal(metrics.MetricUpstreamTimeouts, nil)
	flaps := s.counterTotal(metrics.MetricCircuitOpened, nil)
	p95 := s.latencyP95()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals = push(s.totals, s.delta("total", total), s.window)
	s.failures = push(s.failures, s.delta("failures", failed), s.window)
	s.timeouts = push(s.timeouts, s.delta("timeouts", timeouts), s.window)
	s.flaps = push(s.flaps, s.delta("flaps", flaps), s.window)
	s.p95s = push(s.p95s, p95, s.window)
}

// Features computes the current feature set. ok is false until the windows
// have seen any traffic.
func (s *Sampler) Features() (Features, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := sum(s.totals)
	if total == 0 {
		return Features{}, false
	}

	f := Features{
		FailureRatio: sum(s.failures) / total,
		FailureSlope: slope(s.failures),
		LatencySlope: slope(s.p95s),
		TimeoutRate:  sum(s.timeouts) / total,
		Burstiness:   burstiness(s.failures),
		FlapRate:     sum(s.flaps) / float64(s.window),
	}
	if len(s.p95s) > 0 {
		f.P95LatencyMS = s.p95s[len(s.p95s)-1]
	}
	return f, true
}

// counterTotal sums a counter family's series values, optionally filtered
// by label set.
func (s *Sampler) counterTotal(name string, match func(metrics.Labels) bool) float64 {
	fam, ok := s.registry.Family(name)
	if !ok {
		return 0
	}
	total := 0.0
	for _, series := range fam.Series {
		if match != nil && !match(series.Labels) {
			continue
		}
		total += series.Value
	}
	return total
}

// latencyP95 estimates the p95 from the latency histogram, aggregating the
// cumulative buckets across all paths.
func (s *Sampler) latencyP95() float64 {
	fam, ok := s.registry.Family(metrics.MetricLatencyMS)
	if !ok || len(fam.Series) == 0 {
		return 0
	}

	bounds := fam.Series[0].Bounds
	agg := make([]uint64, len(bounds)+1)
	for _, series := range fam.Series {
		for i, c := range series.Counts {
			agg[i] += c
		}
	}

	total := agg[len(agg)-1]
	if total == 0 {
		return 0
	}

	threshold := float64(total) * 0.95
	for i, bound := range bounds {
		if float64(agg[i]) >= threshold {
			return bound
		}
	}
	return maxLatencyMS
}

// delta returns the non-negative change in a cumulative value since the
// previous sample.
func (s *Sampler) delta(name string, current float64) float64 {
	prev, ok := s.last[name]
	if !ok {
		prev = current
	}
	s.last[name] = current
	if current < prev {
		return 0
	}
	return current - prev
}

func push(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[1:]
	}
	return window
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// slope fits a least-squares line over the window and returns its per-sample
// rise.
func slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, values, nil, false)
	return beta
}

// burstiness is the coefficient of variation (stddev/mean) of the window.
func burstiness(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := stat.Mean(values, nil)
	if mean == 0 {
		return 0
	}
	return stat.StdDev(values, nil) / mean
}
