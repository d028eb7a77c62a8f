// Package server wires the gateway, the exposition endpoint and the health
// check into one HTTP server.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the stdlib HTTP server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New creates a server listening on addr with the given handler.
func New(addr string, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe starts the server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}

// RouterConfig names the handlers the router composes.
type RouterConfig struct {
	// Gateway is the catch-all proxy handler.
	Gateway http.Handler

	// Exposition serves the metrics scrape endpoint.
	Exposition http.Handler
}

// NewRouter builds the route table: /metrics and /health on their own
// routes, everything else proxied. The exposition route is registered
// without a method so the handler's own method check answers non-GET
// scrapes with 405.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", cfg.Exposition)
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("/", cfg.Gateway)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
