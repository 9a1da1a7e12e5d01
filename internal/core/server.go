// Package core provides the HTTP chassis for the Safety Alert relay. It builds
// a chi router, applies the cross-cutting middleware (recovery, request ids,
// logging, CORS, compression, metrics, ingress rate limiting) and serves the
// health and metrics endpoints. Domain handlers are mounted under /api by
// registrars supplied from main.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"safetyalert/internal/config"
)

// Server holds the chassis dependencies. Exported fields are set by main
// (or tests) between NewServer and MountRoutes.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// HealthProbes are run by GET /health. None is the normal case: the relay
	// reports liveness only unless a store is configured.
	HealthProbes []HealthProbe

	// APIRouteRegistrars mount domain handlers under /api.
	APIRouteRegistrars []func(chi.Router)

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler

	limiter *ipLimiter
	router  *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// The caller mounts routes with MountRoutes after filling the optional
// fields.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}
	if perMin := cfg.Server.RateLimitPerMinute; perMin > 0 {
		s.limiter = newIPLimiter(perMin)
	}
	return s, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases chassis resources. The HTTP listener itself is shut down
// by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	if s.limiter != nil {
		s.limiter.reset()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
