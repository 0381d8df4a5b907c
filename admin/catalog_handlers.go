package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListNodes lists the mtm.nodes catalog table.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog store not wired in")
		return
	}
	nodes, err := s.Catalog.Nodes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes})
}

// handleConfigured reports whether the multimaster publication marker
// has been created.
func (s *Server) handleConfigured(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog store not wired in")
		return
	}
	configured, err := s.Catalog.Configured()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"configured": configured})
}

type nodeCreateRequest struct {
	ConnInfo string `json:"conninfo"`
	IsSelf   bool   `json:"is_self"`
}

// handleNodeCreate is the HTTP form of mtm_after_node_create(id,
// conninfo, is_self), the only legitimate way to add a catalog row.
func (s *Server) handleNodeCreate(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog store not wired in")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req nodeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Catalog.AfterNodeCreate(id, req.ConnInfo, req.IsSelf); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNodeDrop is the HTTP form of mtm_after_node_drop(id).
func (s *Server) handleNodeDrop(w http.ResponseWriter, r *http.Request) {
	if s.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog store not wired in")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	if err := s.Catalog.AfterNodeDrop(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
