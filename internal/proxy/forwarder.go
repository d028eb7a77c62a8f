// Package proxy implements the upstream forwarding path: building the
// equivalent outbound request, dispatching it with a bounded timeout, and
// timing every attempt.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Failure classifies how an upstream call went wrong.
type Failure int

const (
	// FailureNone means the upstream produced a response.
	FailureNone Failure = iota

	// FailureUnreachable covers connection refused, DNS failure and other
	// transport errors before a response arrived.
	FailureUnreachable

	// FailureTimeout means the bounded wait for the response elapsed.
	FailureTimeout

	// FailureMalformed means the upstream answered with something that
	// could not be read as a complete HTTP response.
	FailureMalformed

	// FailureCanceled means the inbound client went away before the
	// upstream responded; the upstream call was abandoned.
	FailureCanceled
)

// String returns a short label for the failure kind.
func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureUnreachable:
		return "unreachable"
	case FailureTimeout:
		return "timeout"
	case FailureMalformed:
		return "malformed"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one forwarding attempt. Every outcome carries
// Elapsed, measured from dispatch to the moment the full response body (or
// the failure) was determined.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Failure    Failure
	Err        error
}

// OK reports whether the upstream produced a response.
func (r Result) OK() bool { return r.Failure == FailureNone }

// Hop-by-hop headers, stripped from both directions.
// See RFC 9110 section 7.6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder issues outbound requests against a single fixed upstream.
// A Forwarder is safe for concurrent use by multiple goroutines.
type Forwarder struct {
	upstream *url.URL
	client   *http.Client
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a forwarder for the given upstream base URL. Each attempt
// waits at most timeout for the full upstream response.
func New(upstream *url.URL, timeout time.Duration, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		upstream: upstream,
		client: &http.Client{
			// Redirects are passed back to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		logger:  logger,
	}
}

// Forward builds the outbound equivalent of in, dispatches it and returns
// the outcome. The inbound request context is propagated, so a client
// disconnect cancels the in-flight upstream call. No retries: a failed
// attempt is classified and returned as-is.
func (f *Forwarder) Forward(in *http.Request) Result {
	ctx, cancel := context.WithTimeout(in.Context(), f.timeout)
	defer cancel()

	target := *f.upstream
	target.Path = singleJoin(f.upstream.Path, in.URL.Path)
	target.RawQuery = in.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), in.Body)
	if err != nil {
		return Result{Failure: FailureMalformed, Err: err}
	}
	out.Header = outboundHeader(in.Header)
	out.ContentLength = in.ContentLength

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		elapsed := time.Since(start)
		failure := classify(err, ctx, in.Context())
		f.logger.Debug("upstream call failed",
			zap.String("method", in.Method),
			zap.String("path", in.URL.Path),
			zap.String("failure", failure.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return Result{Elapsed: elapsed, Failure: failure, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Elapsed: elapsed, Failure: classify(err, ctx, in.Context()), Err: err}
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}

	return Result{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
		Elapsed:    elapsed,
	}
}

// Upstream returns the fixed upstream base URL.
func (f *Forwarder) Upstream() *url.URL {
	return f.upstream
}

// Timeout returns the per-attempt upstream timeout.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeout
}

// outboundHeader copies the inbound headers minus hop-by-hop ones.
func outboundHeader(in http.Header) http.Header {
	out := in.Clone()
	for _, h := range hopHeaders {
		out.Del(h)
	}
	return out
}

// classify maps a transport error onto the failure taxonomy. callCtx is the
// per-attempt context (carries the timeout); inCtx is the inbound request
// context (canceled when the client disconnects).
func classify(err error, callCtx, inCtx context.Context) Failure {
	if inCtx.Err() != nil && callCtx.Err() != context.DeadlineExceeded {
		return FailureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureUnreachable
	}
	return FailureMalformed
}

// singleJoin joins two URL path segments with exactly one slash.
func singleJoin(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}
