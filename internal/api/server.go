// Package api provides the HTTP API server of the build coordinator.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narvanalabs/buildgraph/internal/api/handlers"
	"github.com/narvanalabs/buildgraph/internal/api/health"
	"github.com/narvanalabs/buildgraph/internal/api/middleware"
	"github.com/narvanalabs/buildgraph/internal/auth"
	"github.com/narvanalabs/buildgraph/internal/coordinator"
	"github.com/narvanalabs/buildgraph/internal/events"
	"github.com/narvanalabs/buildgraph/internal/release"
	"github.com/narvanalabs/buildgraph/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Dependencies are the services the API exposes.
type Dependencies struct {
	Coordinator *coordinator.Coordinator
	Releases    *release.Manager
	Bus         *events.Bus
	Auth        *auth.Service
	Health      *health.Checker
	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Dependencies
	config     *config.Config
	logger     *slog.Logger
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(Version)
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger.With("component", "api"),
	}
	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	r.Get("/health", s.deps.Health.Handler())
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	builds := handlers.NewBuildHandler(s.deps.Coordinator, s.logger)
	releases := handlers.NewReleaseHandler(s.deps.Releases, s.logger)
	stream := handlers.NewEventHandler(s.deps.Bus, s.logger)
	authMiddleware := middleware.NewAuthMiddleware(s.deps.Auth, s.logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Long-lived; must not inherit the request timeout.
		r.Get("/events", stream.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(60 * time.Second))

			r.Route("/build-tasks", func(r chi.Router) {
				r.Post("/", builds.Submit)
				r.Get("/", builds.List)
				r.Get("/{taskID}", builds.Get)
				r.Post("/{taskID}/completed", builds.Complete)
				r.Post("/{taskID}/cancel", builds.Cancel)
			})

			r.Route("/build-sets", func(r chi.Router) {
				r.Post("/", builds.SubmitSet)
				r.Get("/{setID}", builds.GetSet)
			})

			r.Route("/milestones/{milestoneID}/release", func(r chi.Router) {
				r.Post("/", releases.Start)
				r.Get("/", releases.GetInProgress)
				r.Get("/latest", releases.Latest)
				r.Post("/cancel", releases.Cancel)
			})

			r.Post("/callbacks/milestone-release", releases.Callback)
		})
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is done or the server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams are long-lived
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
