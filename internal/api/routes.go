package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router: common middleware, the unauthenticated
// health probe, and the /api route group.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/distributions", func(r chi.Router) {
			r.Post("/", h.StartDistribution)
			r.Get("/", h.ListDistributions)
			r.Post("/preview", h.PreviewDistribution)
			r.Get("/{runID}", h.GetDistribution)
			r.Post("/{runID}/cancel", h.CancelDistribution)
		})
		r.Get("/accounts/{accountID}/quota", h.GetAccountQuota)
	})

	return r
}
