package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the admin API under /admin on mux.
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/membership", s.handleMembership)
	r.Get("/clique", s.handleClique)
	r.Get("/deadlock/graph", s.handleDeadlockGraph)
	r.Get("/resolver/orphans", s.handleResolverOrphans)

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/nodes", s.handleListNodes)
		r.Get("/configured", s.handleConfigured)
		r.Post("/nodes/{nodeID}", s.handleNodeCreate)
		r.Delete("/nodes/{nodeID}", s.handleNodeDrop)
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("admin: endpoints enabled at /admin/*")
}
