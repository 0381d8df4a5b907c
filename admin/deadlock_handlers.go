package admin

import "net/http"

// handleDeadlockGraph reports the deadlock detector's currently merged
// wait-for graph. Only meaningful on the node currently elected as
// detector; a nil Detector (this node isn't elected) reports 503.
func (s *Server) handleDeadlockGraph(w http.ResponseWriter, r *http.Request) {
	if s.Detector == nil {
		writeError(w, http.StatusServiceUnavailable, "this node is not the elected deadlock detector")
		return
	}

	graph := s.Detector.GraphSnapshot()
	out := make(map[string][]string, len(graph))
	for waiter, holders := range graph {
		list := make([]string, 0, len(holders))
		for _, h := range holders {
			list = append(list, string(h))
		}
		out[string(waiter)] = list
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"graph": out})
}
