// Package main provides the phantom-gateway binary: a reverse-proxy
// gateway that measures and exposes per-request metrics.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
