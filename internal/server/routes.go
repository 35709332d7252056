package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/api", func(r chi.Router) {
		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.closeSession)

				r.Post("/turns", s.processTurn)
				r.Post("/consent", s.recordConsent)
				r.Get("/events", s.getSessionEvents)
			})
		})

		// Live event feed (SSE)
		r.Get("/events", s.streamEvents)

		// Hotline directory
		r.Get("/resources", s.lookupResources)
	})

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
}
