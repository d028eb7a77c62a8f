package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phantomapi/gateway"
	"github.com/phantomapi/gateway/internal/adaptive"
	"github.com/phantomapi/gateway/internal/breaker"
	"github.com/phantomapi/gateway/internal/config"
	"github.com/phantomapi/gateway/internal/expose"
	"github.com/phantomapi/gateway/internal/metrics"
	"github.com/phantomapi/gateway/internal/server"
)

var (
	listenFlag   string
	upstreamFlag string
	timeoutFlag  time.Duration
	runtimeFlag  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Start the gateway: proxy everything to the upstream, serve the
metrics scrape endpoint on /metrics and the liveness check on /health.

Flags override values from the config file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&listenFlag, "listen", "l", "", "listen address (default from config)")
	serveCmd.Flags().StringVarP(&upstreamFlag, "upstream", "u", "", "upstream base URL")
	serveCmd.Flags().DurationVarP(&timeoutFlag, "upstream-timeout", "t", 0, "upstream timeout")
	serveCmd.Flags().BoolVar(&runtimeFlag, "runtime-metrics", false, "expose Go runtime metrics on /metrics")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenFlag
	}
	if cmd.Flags().Changed("upstream") {
		cfg.Upstream = upstreamFlag
	}
	if cmd.Flags().Changed("upstream-timeout") {
		cfg.UpstreamTimeout = config.Duration(timeoutFlag)
	}
	if cmd.Flags().Changed("runtime-metrics") {
		cfg.RuntimeMetrics = runtimeFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry := metrics.NewRegistry()

	gw, err := buildGateway(cfg, registry, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	var runtime prometheus.Gatherer
	if cfg.RuntimeMetrics {
		runtime = expose.NewRuntimeGatherer()
	}
	router := server.NewRouter(server.RouterConfig{
		Gateway:    gw,
		Exposition: expose.NewHandler(registry, runtime, logger.Named("expose")),
	})
	srv := server.New(cfg.Listen, router, logger.Named("http"))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Adaptive.Enabled {
		sampler := adaptive.New(adaptive.Config{
			Registry: registry,
			Breaker:  gw.Breaker(),
			Controller: adaptive.NewController(
				cfg.Adaptive.BaseThreshold,
				cfg.Adaptive.MinThreshold,
				cfg.Adaptive.MaxThreshold,
			),
			Interval: time.Duration(cfg.Adaptive.Interval),
			Window:   cfg.Adaptive.Window,
			Logger:   logger.Named("adaptive"),
		})
		go sampler.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("gateway running",
		zap.String("listen", cfg.Listen),
		zap.String("upstream", cfg.Upstream),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildGateway(cfg *config.Config, registry *metrics.Registry, logger *zap.Logger) (*gateway.Gateway, error) {
	up, err := gateway.WithUpstream(cfg.Upstream)
	if err != nil {
		return nil, err
	}

	opts := []gateway.Option{
		up,
		gateway.WithTimeout(time.Duration(cfg.UpstreamTimeout)),
		gateway.WithLatencyBuckets(cfg.LatencyBuckets),
		gateway.WithRegistry(registry),
		gateway.WithLogger(logger.Named("gateway")),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, gateway.WithBreaker(breaker.Config{
			Window:      cfg.Breaker.Window,
			MinRequests: cfg.Breaker.MinRequests,
			Threshold:   cfg.Breaker.Threshold,
			OpenFor:     time.Duration(cfg.Breaker.OpenFor),
		}))
	} else {
		opts = append(opts, gateway.WithoutBreaker())
	}

	return gateway.New(opts...)
}
