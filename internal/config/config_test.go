package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_ValidExceptUpstream(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, ErrNoUpstream) {
		t.Errorf("Validate() error = %v, want ErrNoUpstream", err)
	}

	cfg.Upstream = "http://localhost:9000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with upstream error = %v", err)
	}
}

func TestLoad_MissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	body := `
listen: ":9090"
upstream: "http://upstream:8000"
upstream_timeout: "750ms"
latency_buckets: [10, 50, 100]
breaker:
  enabled: true
  window: 40
  threshold: 0.6
  open_for: "10s"
adaptive:
  enabled: true
  interval: "2s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if got := time.Duration(cfg.UpstreamTimeout); got != 750*time.Millisecond {
		t.Errorf("UpstreamTimeout = %v, want 750ms", got)
	}
	if len(cfg.LatencyBuckets) != 3 {
		t.Errorf("len(LatencyBuckets) = %d, want 3", len(cfg.LatencyBuckets))
	}
	if cfg.Breaker.Window != 40 {
		t.Errorf("Breaker.Window = %d, want 40", cfg.Breaker.Window)
	}
	// Unset file fields keep their defaults.
	if cfg.Breaker.MinRequests != 10 {
		t.Errorf("Breaker.MinRequests = %d, want default 10", cfg.Breaker.MinRequests)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	os.WriteFile(path, []byte("upstream_timeout: \"soon\"\n"), 0o600)

	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want duration parse error")
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad scheme", func(c *Config) { c.Upstream = "ftp://host" }},
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"zero timeout", func(c *Config) { c.UpstreamTimeout = 0 }},
		{"no buckets", func(c *Config) { c.LatencyBuckets = nil }},
		{"negative bucket", func(c *Config) { c.LatencyBuckets = []float64{-5} }},
		{"breaker threshold", func(c *Config) { c.Breaker.Threshold = 1.5 }},
		{"adaptive without breaker", func(c *Config) {
			c.Breaker.Enabled = false
			c.Adaptive.Enabled = true
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Upstream = "http://localhost:9000"
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want rejection")
			}
		})
	}
}
