// Package gateway provides a reverse-proxy gateway that forwards HTTP
// requests to a single fixed upstream, recording per-request outcome and
// latency into a concurrent metric registry.
//
// Example usage:
//
//	up, err := gateway.WithUpstream("http://localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gw, err := gateway.New(up)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Close()
//
//	http.ListenAndServe(":8080", gw)
//
// The phantom-gateway binary and the fx/gatewayfx module wire a gateway
// together with its /metrics scrape route and /health check.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/phantomapi/gateway/internal/breaker"
	"github.com/phantomapi/gateway/internal/metrics"
	"github.com/phantomapi/gateway/internal/proxy"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNoUpstream indicates no upstream base URL was provided.
	ErrNoUpstream = errors.New("gateway: no upstream provided")

	// ErrClosed indicates the gateway has been closed.
	ErrClosed = errors.New("gateway: closed")
)

// Gateway proxies requests to the upstream and records every outcome.
// A Gateway is safe for concurrent use by multiple goroutines.
type Gateway struct {
	forwarder *proxy.Forwarder
	registry  *metrics.Registry
	breaker   *breaker.Breaker
	reserved  map[string]struct{}
	logger    *zap.Logger
	closed    atomic.Bool
}

// Compile-time check that Gateway implements http.Handler.
var _ http.Handler = (*Gateway)(nil)

// New creates a Gateway with the given options. An upstream is required;
// everything else has sensible defaults.
func New(opts ...Option) (*Gateway, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.upstream == nil {
		return nil, ErrNoUpstream
	}

	registry := cfg.registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	registry.DeclareBuckets(metrics.MetricLatencyMS, cfg.buckets)
	registry.DeclareBuckets(metrics.MetricCircuitFailureRatio, metrics.DefaultRatioBuckets)

	g := &Gateway{
		forwarder: proxy.New(cfg.upstream, cfg.timeout, cfg.logger.Named("proxy")),
		registry:  registry,
		reserved:  make(map[string]struct{}, len(cfg.reserved)),
		logger:    cfg.logger,
	}
	for _, p := range cfg.reserved {
		g.reserved[p] = struct{}{}
	}

	if cfg.breakerOn {
		bc := cfg.breakerCfg
		bc.OnStateChange = g.onCircuitChange
		g.breaker = breaker.New(bc)
		g.setCircuitGauge(breaker.StateClosed)
	}

	g.logger.Debug("gateway initialized",
		zap.String("upstream", cfg.upstream.String()),
		zap.Duration("upstreamTimeout", cfg.timeout),
		zap.Bool("breaker", cfg.breakerOn),
	)

	return g, nil
}

// ServeHTTP handles one request: forward, then record, then respond.
// The outcome is always recorded before the response is written, so the
// metrics reflect every request that reached the handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.closed.Load() {
		http.Error(w, "gateway closed", http.StatusServiceUnavailable)
		return
	}

	path := r.URL.Path
	if _, ok := g.reserved[path]; ok {
		http.NotFound(w, r)
		return
	}

	if g.breaker != nil && !g.breaker.Allow() {
		g.recordShortCircuit(path)
		http.Error(w, "circuit open", http.StatusServiceUnavailable)
		return
	}

	result := g.forwarder.Forward(r)
	g.record(path, r.Method, result)
	g.respond(w, result)
}

// Registry returns the metric registry backing this gateway.
func (g *Gateway) Registry() *metrics.Registry {
	return g.registry
}

// Breaker returns the circuit breaker, or nil when disabled.
func (g *Gateway) Breaker() *breaker.Breaker {
	return g.breaker
}

// Close marks the gateway closed. Subsequent requests get 503.
func (g *Gateway) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

// record stores the outcome of one forwarded request. Metric errors here
// are programming errors (label contract violations), never client-visible;
// they are logged and the request proceeds.
func (g *Gateway) record(path, method string, result proxy.Result) {
	status := metrics.StatusError
	if result.OK() {
		status = statusClass(result.StatusCode)
	}

	g.count(metrics.MetricRequests, metrics.Labels{
		metrics.LabelPath:   path,
		metrics.LabelStatus: status,
	})
	g.observe(metrics.MetricLatencyMS, metrics.Labels{metrics.LabelPath: path},
		float64(result.Elapsed)/float64(time.Millisecond))

	switch {
	case result.Failure == proxy.FailureTimeout:
		g.count(metrics.MetricUpstreamTimeouts, metrics.Labels{
			metrics.LabelPath:   path,
			metrics.LabelMethod: method,
		})
	case result.OK() && result.StatusCode >= http.StatusInternalServerError:
		g.count(metrics.MetricUpstreamErrors, metrics.Labels{
			metrics.LabelPath:   path,
			metrics.LabelMethod: method,
		})
	}

	if g.breaker != nil {
		failure := !result.OK() || result.StatusCode >= http.StatusInternalServerError
		ratio := g.breaker.Record(failure)
		g.count(metrics.MetricCircuitTracked, metrics.Labels{})
		g.observe(metrics.MetricCircuitFailureRatio, metrics.Labels{}, ratio)
	}
}

// recordShortCircuit counts a request rejected by the open circuit. No
// latency sample: no upstream attempt was made.
func (g *Gateway) recordShortCircuit(path string) {
	g.count(metrics.MetricRequests, metrics.Labels{
		metrics.LabelPath:   path,
		metrics.LabelStatus: "5xx",
	})
	g.count(metrics.MetricCircuitShortCircuited, metrics.Labels{})
}

// respond writes the upstream response, or a synthetic gateway error.
// Client disconnects get no response body; the attempt was already
// recorded as failed.
func (g *Gateway) respond(w http.ResponseWriter, result proxy.Result) {
	if result.OK() {
		header := w.Header()
		for k, vs := range result.Header {
			for _, v := range vs {
				header.Add(k, v)
			}
		}
		w.WriteHeader(result.StatusCode)
		w.Write(result.Body)
		return
	}

	switch result.Failure {
	case proxy.FailureCanceled:
		// Client is gone.
	case proxy.FailureTimeout:
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	default:
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
}

func (g *Gateway) onCircuitChange(from, to breaker.State) {
	g.setCircuitGauge(to)
	if to == breaker.StateOpen {
		g.count(metrics.MetricCircuitOpened, metrics.Labels{})
	}
	g.logger.Info("circuit state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (g *Gateway) setCircuitGauge(state breaker.State) {
	var v float64
	switch state {
	case breaker.StateOpen:
		v = 1
	case breaker.StateHalfOpen:
		v = 2
	}
	if err := g.registry.SetGauge(metrics.MetricCircuitState, metrics.Labels{}, v); err != nil {
		g.logger.Error("setting circuit gauge", zap.Error(err))
	}
}

func (g *Gateway) count(name string, labels metrics.Labels) {
	if err := g.registry.IncCounter(name, labels); err != nil {
		g.logger.Error("incrementing counter", zap.String("metric", name), zap.Error(err))
	}
}

func (g *Gateway) observe(name string, labels metrics.Labels, value float64) {
	if err := g.registry.ObserveHistogram(name, labels, value); err != nil {
		g.logger.Error("observing histogram", zap.String("metric", name), zap.Error(err))
	}
}

// statusClass collapses a status code into its class label ("2xx", "5xx").
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return fmt.Sprintf("%dxx", code/100)
}
