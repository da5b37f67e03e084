package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics, s.cors, limitBody)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", s.handleListWorkspaces)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkspace)
				r.Put("/", s.handlePutWorkspace)
				r.Delete("/", s.handleDeleteWorkspace)
				r.Post("/reload", s.handleReloadWorkspace)
			})
		})

		r.Post("/broadcasts/{key}", s.handleBroadcast)
		r.Get("/variables", s.handleListVariables)

		r.Get(s.wsCfg.RoutePath(), s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"tabs":    len(s.engine.Tabs()),
	})
}
