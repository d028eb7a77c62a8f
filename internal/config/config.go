// Package config loads and validates the gateway configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoUpstream indicates the configuration names no upstream base URL.
var ErrNoUpstream = errors.New("config: upstream URL is required")

// Duration wraps time.Duration so YAML can carry values like "2s" or
// "150ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root gateway configuration.
type Config struct {
	// Listen is the address the gateway serves on.
	Listen string `yaml:"listen"`

	// Upstream is the fixed upstream base URL.
	Upstream string `yaml:"upstream"`

	// UpstreamTimeout bounds each upstream attempt.
	UpstreamTimeout Duration `yaml:"upstream_timeout"`

	// LatencyBuckets are the histogram bucket upper bounds in milliseconds.
	LatencyBuckets []float64 `yaml:"latency_buckets"`

	// RuntimeMetrics appends Go runtime and process metrics to /metrics.
	RuntimeMetrics bool `yaml:"runtime_metrics"`

	Breaker  BreakerConfig  `yaml:"breaker"`
	Adaptive AdaptiveConfig `yaml:"adaptive"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Window      int      `yaml:"window"`
	MinRequests int      `yaml:"min_requests"`
	Threshold   float64  `yaml:"threshold"`
	OpenFor     Duration `yaml:"open_for"`
}

// AdaptiveConfig configures the adaptive threshold sampler.
type AdaptiveConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Interval      Duration `yaml:"interval"`
	Window        int      `yaml:"window"`
	BaseThreshold float64  `yaml:"base_threshold"`
	MinThreshold  float64  `yaml:"min_threshold"`
	MaxThreshold  float64  `yaml:"max_threshold"`
}

// Default returns the default configuration. The upstream has no default
// and must be set by file or flag.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		UpstreamTimeout: Duration(2 * time.Second),
		LatencyBuckets:  []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		Breaker: BreakerConfig{
			Enabled:     true,
			Window:      20,
			MinRequests: 10,
			Threshold:   0.5,
			OpenFor:     Duration(30 * time.Second),
		},
		Adaptive: AdaptiveConfig{
			Enabled:       false,
			Interval:      Duration(time.Second),
			Window:        30,
			BaseThreshold: 0.7,
			MinThreshold:  0.4,
			MaxThreshold:  0.9,
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return ErrNoUpstream
	}
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("config: invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: upstream scheme must be http or https, got %q", u.Scheme)
	}
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("config: upstream timeout must be positive")
	}
	if len(c.LatencyBuckets) == 0 {
		return errors.New("config: at least one latency bucket is required")
	}
	for _, b := range c.LatencyBuckets {
		if b <= 0 {
			return fmt.Errorf("config: latency bucket bound %v must be positive", b)
		}
	}
	if c.Breaker.Enabled {
		if c.Breaker.Threshold <= 0 || c.Breaker.Threshold > 1 {
			return fmt.Errorf("config: breaker threshold %v must be in (0, 1]", c.Breaker.Threshold)
		}
	}
	if c.Adaptive.Enabled {
		if !c.Breaker.Enabled {
			return errors.New("config: adaptive control requires the breaker")
		}
		if c.Adaptive.MinThreshold > c.Adaptive.MaxThreshold {
			return errors.New("config: adaptive min threshold above max")
		}
	}
	return nil
}

// UpstreamURL returns the parsed upstream base URL. Call Validate first.
func (c *Config) UpstreamURL() (*url.URL, error) {
	return url.Parse(c.Upstream)
}
