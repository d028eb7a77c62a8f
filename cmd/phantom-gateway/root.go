package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags.
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "phantom-gateway",
	Short: "Reverse-proxy gateway with pull-based request metrics",
	Long: `phantom-gateway forwards client HTTP requests to a single upstream
service, records every outcome and its latency, and exposes the
measurements on /metrics in the Prometheus text format.

Examples:
  # Proxy to a local upstream
  phantom-gateway serve --upstream http://localhost:9000

  # Run from a config file with verbose logging
  phantom-gateway serve --config gateway.yaml -v`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// buildLogger returns a production logger, or a development one when
// --verbose is set.
func buildLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
