// Package admin exposes a small read-mostly HTTP surface over the
// cluster's own state: membership, the current clique, the deadlock
// detector's merged graph, orphaned transactions the resolver is
// tracking, and the two legitimate catalog mutators.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/mtmcore/mtmcore/catalog"
	"github.com/mtmcore/mtmcore/deadlock"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/resolver"
	"github.com/rs/zerolog/log"
)

// Server holds the read-only views and mutators the admin routes are
// built from. Any field left nil disables the routes that depend on it
// (e.g. a follower running no local Detector).
type Server struct {
	Machine  *membership.Machine
	Detector *deadlock.Detector
	Status   *resolver.StatusTracker
	Catalog  *catalog.Store
}

// NewServer builds a Server. Machine is required; the rest may be nil.
func NewServer(machine *membership.Machine, detector *deadlock.Detector, status *resolver.StatusTracker, cat *catalog.Store) *Server {
	return &Server{
		Machine:  machine,
		Detector: detector,
		Status:   status,
		Catalog:  cat,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("admin: encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
