// Package api wires the HTTP surface: middleware stack, routes, and the
// Prometheus scrape endpoint.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/api/middleware"
	"github.com/agentmesh/relay/internal/handlers"
	"github.com/agentmesh/relay/internal/relay"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, svc *relay.Service) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(256 * 1024))
	r.Use(middleware.RequireJSON)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(svc)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.CloseSession)
		r.Post("/{id}/subscribe", h.Subscribe)
		r.Post("/{id}/unsubscribe", h.Unsubscribe)
	})

	r.Post("/broadcast", h.Broadcast)
	r.Get("/messages", h.Messages)
	r.Get("/find", h.Find)

	r.Route("/projects/{id}", func(r chi.Router) {
		r.Post("/links", h.LinkProjects)
		r.Delete("/links/{target}", h.UnlinkProjects)
		r.Post("/share", h.ShareKnowledge)
		r.Get("/shares", h.ShareHistory)
	})

	r.Get("/ws/{id}", h.WS(logger))

	return r
}
