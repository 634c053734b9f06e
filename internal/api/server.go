package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/leadflow/internal/config"
)

// Server wraps the routed handlers in an http.Server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, d Deps) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(NewHandlers(d), cfg.AllowedOrigins),
	}
}

// ListenAndServe starts the HTTP server. WriteTimeout stays zero so
// notification streams are not cut off.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
