// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/waveflow/waveflow/config"
	"github.com/waveflow/waveflow/pkg/api/handlers"
	"github.com/waveflow/waveflow/pkg/api/middleware"
	"github.com/waveflow/waveflow/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Execution handles workflow execution endpoints
	Execution *handlers.ExecutionHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	// Register routes
	RegisterRoutes(r, cfg, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, handlers *Handlers) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Execution != nil {
			r.Route("/executions", func(r chi.Router) {
				r.Post("/", handlers.Execution.StartExecution)
				r.Get("/", handlers.Execution.ListExecutions)
				r.Get("/{id}", handlers.Execution.GetExecution)
				r.Get("/{id}/history", handlers.Execution.GetHistory)
				r.Get("/{id}/queries/{name}", handlers.Execution.QueryExecution)
				r.Post("/{id}/cancel", handlers.Execution.CancelExecution)

				// Signals are externally driven; rate limit them separately.
				r.Group(func(r chi.Router) {
					if cfg.Server.RateLimit.Enabled {
						r.Use(middleware.RateLimit(middleware.RateLimitConfig{
							RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
							Burst:             cfg.Server.RateLimit.Burst,
						}))
					}
					r.Post("/{id}/signals/{name}", handlers.Execution.SignalExecution)
				})
			})
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
