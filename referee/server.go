package referee

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// decisionKey is the single persisted KV entry, mirroring the
// referee.decision table keyed by key='winner'.
var decisionKey = []byte("winner")

type decision struct {
	NodeID int
	Epoch  uint64
}

// Store persists the current grant decision, if any, across restarts.
type Store struct {
	db *pebble.DB
}

// OpenStore opens (creating if necessary) a pebble-backed decision store
// at dir.
func OpenStore(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) get() (decision, bool, error) {
	value, closer, err := s.db.Get(decisionKey)
	if err == pebble.ErrNotFound {
		return decision{}, false, nil
	}
	if err != nil {
		return decision{}, false, err
	}
	defer closer.Close()

	if len(value) != 16 {
		return decision{}, false, nil
	}
	return decision{
		NodeID: int(binary.LittleEndian.Uint64(value[:8])),
		Epoch:  binary.LittleEndian.Uint64(value[8:]),
	}, true, nil
}

func (s *Store) put(d decision) error {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[:8], uint64(d.NodeID))
	binary.LittleEndian.PutUint64(buf[8:], d.Epoch)
	return s.db.Set(decisionKey, buf, pebble.Sync)
}

func (s *Store) clear() error {
	return s.db.Delete(decisionKey, pebble.Sync)
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Server is the referee's HTTP surface: a single /grant endpoint (GET to
// query, POST to request, DELETE to surrender) over an advisory KV that
// awards at most one grant per epoch and tracks the set of nodes it has
// heard from, so it can clear a stale decision once both nodes of a
// two-node cluster report in simultaneously.
type Server struct {
	mu    sync.Mutex
	store *Store
	seen  map[int]bool // nodes observed since the last cleared decision
}

// NewServer wraps store in an HTTP handler.
func NewServer(store *Store) *Server {
	return &Server{
		store: store,
		seen:  make(map[int]bool),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/grant", s.handleGrant)
	return mux
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleQuery(w, r)
	case http.MethodPost:
		s.handleRequest(w, r)
	case http.MethodDelete:
		s.handleSurrender(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok, err := s.store.get()
	if err != nil {
		log.Error().Err(err).Msg("referee: read decision")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, grantResponse{})
		return
	}
	writeJSON(w, grantResponse{NodeID: d.NodeID, Epoch: d.Epoch, Granted: true})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.Atoi(r.URL.Query().Get("node"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	epoch, err := strconv.ParseUint(r.URL.Query().Get("epoch"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[nodeID] = true

	existing, ok, err := s.store.get()
	if err != nil {
		log.Error().Err(err).Msg("referee: read decision")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if ok {
		// Sticky: a standing decision, whatever its epoch, keeps its
		// holder until surrendered. Only the holder itself re-asking is
		// granted; any other requester is refused.
		writeJSON(w, grantResponse{NodeID: existing.NodeID, Epoch: existing.Epoch, Granted: existing.NodeID == nodeID})
		return
	}

	d := decision{NodeID: nodeID, Epoch: epoch}
	if err := s.store.put(d); err != nil {
		log.Error().Err(err).Msg("referee: persist decision")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	log.Info().Int("node_id", nodeID).Uint64("epoch", epoch).Msg("referee: grant awarded")
	writeJSON(w, grantResponse{NodeID: nodeID, Epoch: epoch, Granted: true})
}

func (s *Server) handleSurrender(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.Atoi(r.URL.Query().Get("node"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen[nodeID] = true

	// Clearing requires both cluster members to have checked in since
	// the decision was made, matching the observed behavior that a
	// persisted decision survives restarts and is only dropped once
	// both nodes are simultaneously online again.
	if len(s.seen) >= 2 {
		if err := s.store.clear(); err != nil {
			log.Error().Err(err).Msg("referee: clear decision")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.seen = make(map[int]bool)
		log.Info().Msg("referee: decision cleared, both nodes online")
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
