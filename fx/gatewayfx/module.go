// Package gatewayfx provides an fx module that runs the gateway's HTTP
// server for the configured upstream.
// Requires a *zap.Logger and a *config.Config to be provided.
package gatewayfx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/phantomapi/gateway"
	"github.com/phantomapi/gateway/internal/adaptive"
	"github.com/phantomapi/gateway/internal/breaker"
	"github.com/phantomapi/gateway/internal/config"
	"github.com/phantomapi/gateway/internal/expose"
	"github.com/phantomapi/gateway/internal/metrics"
	"github.com/phantomapi/gateway/internal/server"
)

// Module provides the gateway, its metric registry and the HTTP server,
// started and stopped with the fx lifecycle.
var Module = fx.Module("gateway",
	fx.Provide(
		newRegistry,
		newGateway,
		newServer,
	),
	fx.Invoke(run),
)

func newRegistry() *metrics.Registry {
	return metrics.NewRegistry()
}

// GatewayParams holds dependencies for creating the gateway.
type GatewayParams struct {
	fx.In

	Config    *config.Config
	Registry  *metrics.Registry
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func newGateway(p GatewayParams) (*gateway.Gateway, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}

	up, err := gateway.WithUpstream(p.Config.Upstream)
	if err != nil {
		return nil, err
	}

	opts := []gateway.Option{
		up,
		gateway.WithTimeout(time.Duration(p.Config.UpstreamTimeout)),
		gateway.WithLatencyBuckets(p.Config.LatencyBuckets),
		gateway.WithRegistry(p.Registry),
		gateway.WithLogger(p.Logger.Named("gateway")),
	}
	if p.Config.Breaker.Enabled {
		opts = append(opts, gateway.WithBreaker(breaker.Config{
			Window:      p.Config.Breaker.Window,
			MinRequests: p.Config.Breaker.MinRequests,
			Threshold:   p.Config.Breaker.Threshold,
			OpenFor:     time.Duration(p.Config.Breaker.OpenFor),
		}))
	} else {
		opts = append(opts, gateway.WithoutBreaker())
	}

	gw, err := gateway.New(opts...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return gw.Close()
		},
	})
	return gw, nil
}

// ServerParams holds dependencies for creating the HTTP server.
type ServerParams struct {
	fx.In

	Config   *config.Config
	Registry *metrics.Registry
	Gateway  *gateway.Gateway
	Logger   *zap.Logger
}

func newServer(p ServerParams) *server.Server {
	var runtime prometheus.Gatherer
	if p.Config.RuntimeMetrics {
		runtime = expose.NewRuntimeGatherer()
	}

	router := server.NewRouter(server.RouterConfig{
		Gateway:    p.Gateway,
		Exposition: expose.NewHandler(p.Registry, runtime, p.Logger.Named("expose")),
	})
	return server.New(p.Config.Listen, router, p.Logger.Named("http"))
}

// RunParams holds dependencies for starting the serve loop.
type RunParams struct {
	fx.In

	Config    *config.Config
	Registry  *metrics.Registry
	Gateway   *gateway.Gateway
	Server    *server.Server
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func run(p RunParams) {
	var stopSampler context.CancelFunc

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if p.Config.Adaptive.Enabled {
				sampler := adaptive.New(adaptive.Config{
					Registry: p.Registry,
					Breaker:  p.Gateway.Breaker(),
					Controller: adaptive.NewController(
						p.Config.Adaptive.BaseThreshold,
						p.Config.Adaptive.MinThreshold,
						p.Config.Adaptive.MaxThreshold,
					),
					Interval: time.Duration(p.Config.Adaptive.Interval),
					Window:   p.Config.Adaptive.Window,
					Logger:   p.Logger.Named("adaptive"),
				})
				var ctx context.Context
				ctx, stopSampler = context.WithCancel(context.Background())
				go sampler.Run(ctx)
			}

			go func() {
				if err := p.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stopSampler != nil {
				stopSampler()
			}
			return p.Server.Shutdown(ctx)
		},
	})
}
