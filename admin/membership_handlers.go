package admin

import "net/http"

type membershipResponse struct {
	SelfID       int    `json:"self_id"`
	State        string `json:"state"`
	MaxNodes     int    `json:"max_nodes"`
	DisabledMask uint16 `json:"disabled_mask"`
	Connectivity uint16 `json:"connectivity_mask"`
}

// handleMembership reports this node's own membership state.
func (s *Server) handleMembership(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, membershipResponse{
		SelfID:       s.Machine.SelfID(),
		State:        s.Machine.State().String(),
		MaxNodes:     s.Machine.MaxNodes(),
		DisabledMask: uint16(s.Machine.DisabledMask()),
		Connectivity: uint16(s.Machine.ConnectivityMask()),
	})
}

type cliqueResponse struct {
	Mask  uint16 `json:"mask"`
	Nodes []int  `json:"nodes"`
}

// handleClique reports the currently computed clique.
func (s *Server) handleClique(w http.ResponseWriter, r *http.Request) {
	clique := s.Machine.Clique()
	writeJSON(w, http.StatusOK, cliqueResponse{
		Mask:  uint16(clique),
		Nodes: clique.Nodes(),
	})
}
