package admin

import "net/http"

// handleResolverOrphans lists GIDs this node's resolver currently sees
// stuck in PREPARED or PRECOMMITTED, awaiting resolution.
func (s *Server) handleResolverOrphans(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "resolver status tracker not wired in")
		return
	}

	orphans := s.Status.Orphans()
	out := make([]string, 0, len(orphans))
	for _, g := range orphans {
		out = append(out, string(g))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orphans": out})
}
