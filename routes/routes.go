package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/vision-gateway/app"
	"github.com/upb/vision-gateway/handlers"
	"github.com/upb/vision-gateway/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(deps.Metrics.Middleware)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.Config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))

	healthHandler := handlers.NewHealthHandler(nil, deps.ProviderRegistry, deps.Logger)
	if deps.DB != nil {
		healthHandler = handlers.NewHealthHandler(deps.DB, deps.ProviderRegistry, deps.Logger)
	}

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	analysisHandler := handlers.NewAnalysisHandler(deps.AnalysisService, deps.Config.Media.UploadMaxBytes, deps.Logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}

		// Analysis runs hold the request open through every backoff wait
		r.With(middleware.Deadline(deps.Config.Server.RequestTimeout)).Post("/analyze", analysisHandler.HandleAnalyze)
		r.Get("/models", analysisHandler.HandleListModels)

		// Recorded runs exist only when a database is configured
		if deps.AuditService != nil {
			runHandler := handlers.NewRunHandler(deps.AuditService, deps.Logger)
			r.Get("/runs", runHandler.HandleListRuns)
			r.Get("/runs/{id}", runHandler.HandleGetRun)
		}
	})

	return r
}
