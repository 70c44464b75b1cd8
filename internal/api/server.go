// Package api exposes the distribution lifecycle over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/logger"
)

// Server wraps the HTTP server around the distribution handlers.
type Server struct {
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer creates the API server.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.GetHost(), cfg.Port),
			Handler:      SetupRoutes(h),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("api server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("api server shutting down")
	return s.server.Shutdown(ctx)
}
