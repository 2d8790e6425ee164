// Package core provides the HTTP chassis for the message pipeline: router
// construction, cross-cutting middleware, response envelopes, request
// validation, and health probing. Domain handlers mount onto the router it
// builds.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"omnirelay/internal/config"
)

// Server bundles the chassis dependencies so handlers and middleware share
// one configuration, logger, and validator.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are checked by GET /health. Registered by the entry point.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. Populated by the
	// entry point to avoid an import cycle between core and handlers.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux

	// closers run during Shutdown, last-registered first.
	closers []func() error
}

// NewServer builds the chassis. Routes are mounted separately via MountRoutes
// so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// RegisterCloser adds a resource to release during Shutdown.
func (s *Server) RegisterCloser(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases registered resources in reverse registration order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		s.Logger.Error("error releasing server resources", "error", firstErr)
		return firstErr
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
