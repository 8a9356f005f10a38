// Package server exposes the read API, status and admin endpoints over HTTP,
// alongside /health and /metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"ncaaf_v5/feedcache/internal/readapi"
	"ncaaf_v5/feedcache/internal/scheduler"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Scheduler is the part of the scheduler the HTTP surface needs.
type Scheduler interface {
	Status() scheduler.Status
	ForceTick(ctx context.Context, id string) error
}

// Reader serves cached payloads.
type Reader interface {
	ReadCached(key string) (readapi.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds the HTTP settings.
type Config struct {
	Port          int
	RateLimit     int // requests per second on /v1 routes, 0 disables
	BurstLimit    int
	EnableMetrics bool
}

// Server manages the HTTP server and routes.
type Server struct {
	sched   Scheduler
	reader  Reader
	limiter *rate.Limiter
	checks  map[string]HealthCheck
	metrics bool

	router *http.ServeMux
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// New creates the HTTP server.
func New(cfg Config, sched Scheduler, reader Reader, opts ...Option) *Server {
	s := &Server{
		sched:   sched,
		reader:  reader,
		checks:  make(map[string]HealthCheck),
		metrics: cfg.EnableMetrics,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.BurstLimit
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withMiddleware(s.router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) checkNames() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
