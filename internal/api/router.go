// Package api assembles the HTTP router of the conversion service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/api/handlers"
	"github.com/fhirhub/go-fhirhub/internal/api/middleware"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

// RouterConfig wires handlers into the router. Log is optional; without it
// the listing and stats endpoints are not mounted.
type RouterConfig struct {
	ServiceName string
	APIKeys     map[string]string
	Convert     *handlers.ConvertHandler
	Log         *handlers.ConversionsHandler
	Health      *handlers.HealthHandler
	Logger      *zap.Logger
}

// NewRouter builds the router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/public/health", cfg.Health.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Use(middleware.MaxBody(handlers.MaxUploadBytes + 1<<20))
		cfg.Convert.Register(r)
		if cfg.Log != nil {
			cfg.Log.Register(r)
		}
	})

	return r
}
