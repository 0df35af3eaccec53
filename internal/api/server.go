package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/campaign-autopilot/internal/config"
	"github.com/ignite/campaign-autopilot/internal/engine"
	"github.com/ignite/campaign-autopilot/internal/pkg/logger"
)

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	manager *engine.Manager,
	gateway *engine.Gateway,
	scheduler *engine.Scheduler,
	store engine.Store,
	metrics engine.MetricStore,
	predictor engine.Predictor,
) *Server {
	handlers := NewHandlers(manager, gateway, scheduler, store, metrics, predictor)
	router := SetupRoutes(handlers)

	return &Server{
		config:  cfg,
		handler: router,
	}
}

// Start begins listening on the configured address. Blocks until the server
// stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logger.Info("api: listening", "addr", s.config.Addr())
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
