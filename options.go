package gateway

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/phantomapi/gateway/internal/breaker"
	"github.com/phantomapi/gateway/internal/metrics"
)

// Option configures a Gateway.
type Option interface {
	apply(*options)
}

// options holds the gateway configuration.
type options struct {
	upstream   *url.URL
	timeout    time.Duration
	buckets    []float64
	registry   *metrics.Registry
	logger     *zap.Logger
	breakerOn  bool
	breakerCfg breaker.Config
	reserved   []string
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		timeout:    2 * time.Second,
		buckets:    metrics.DefaultLatencyBuckets,
		logger:     zap.NewNop(),
		breakerOn:  true,
		breakerCfg: breaker.DefaultConfig(),
		reserved:   []string{"/metrics", "/health"},
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithUpstream sets the upstream base URL from a string.
func WithUpstream(raw string) (Option, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream scheme must be http or https, got %q", u.Scheme)
	}
	return WithUpstreamURL(u), nil
}

// WithUpstreamURL sets the upstream base URL.
func WithUpstreamURL(u *url.URL) Option {
	return optionFunc(func(o *options) {
		o.upstream = u
	})
}

// WithTimeout bounds each upstream attempt.
// Default is 2 seconds.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.timeout = d
	})
}

// WithLatencyBuckets sets the latency histogram bucket upper bounds, in
// milliseconds. A +Inf bucket is always implied.
func WithLatencyBuckets(bounds []float64) Option {
	return optionFunc(func(o *options) {
		o.buckets = bounds
	})
}

// WithRegistry sets the metric registry.
// If not set, a fresh registry is created.
func WithRegistry(r *metrics.Registry) Option {
	return optionFunc(func(o *options) {
		o.registry = r
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithBreaker enables the circuit breaker with the given configuration.
// The breaker is on by default with breaker.DefaultConfig.
func WithBreaker(cfg breaker.Config) Option {
	return optionFunc(func(o *options) {
		o.breakerOn = true
		o.breakerCfg = cfg
	})
}

// WithoutBreaker disables the circuit breaker.
func WithoutBreaker() Option {
	return optionFunc(func(o *options) {
		o.breakerOn = false
	})
}

// WithReservedPaths sets the paths the proxy refuses to forward (served by
// their own routes instead). Default is /metrics and /health.
func WithReservedPaths(paths ...string) Option {
	return optionFunc(func(o *options) {
		o.reserved = paths
	})
}
