// Package deadlock implements the distributed deadlock detector: each
// node maintains a local wait-for graph, periodically ships it to the
// elected detector node, which merges contributions by GID, runs cycle
// detection, and broadcasts ABORT for the lowest-GID victim of any
// cycle found.
package deadlock

import (
	"sync"

	"github.com/mtmcore/mtmcore/gid"
)

// Vertex is a transaction identity in a wait-for graph: always a local
// transaction id, additionally tagged with a GID when the transaction
// is distributed.
type Vertex struct {
	LocalID uint64
	GID     gid.GID
}

// Edge records that Waiter is blocked on a lock held by Holder.
type Edge struct {
	Waiter Vertex
	Holder Vertex
}

// LocalGraph is the per-node wait-for graph WF_i. The host engine's lock
// manager calls AddWait/RemoveWait as it blocks and unblocks backends;
// Snapshot is called by the reporter once per report interval.
type LocalGraph struct {
	mu    sync.Mutex
	edges map[Edge]struct{}
}

// NewLocalGraph builds an empty local wait-for graph.
func NewLocalGraph() *LocalGraph {
	return &LocalGraph{edges: make(map[Edge]struct{})}
}

// AddWait records that waiter blocks on a lock held by holder.
func (g *LocalGraph) AddWait(waiter, holder Vertex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[Edge{Waiter: waiter, Holder: holder}] = struct{}{}
}

// RemoveWait clears a single wait edge, once the lock is granted.
func (g *LocalGraph) RemoveWait(waiter, holder Vertex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, Edge{Waiter: waiter, Holder: holder})
}

// RemoveVertex drops every edge touching v, on transaction end.
func (g *LocalGraph) RemoveVertex(v Vertex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for e := range g.edges {
		if e.Waiter == v || e.Holder == v {
			delete(g.edges, e)
		}
	}
}

// Snapshot returns the current edge set, safe to serialize.
func (g *LocalGraph) Snapshot() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	return out
}

// Contribution is one node's tagged wait-for graph snapshot, as sent to
// the elected detector.
type Contribution struct {
	NodeID        int
	RecoveryCount uint64
	Edges         []Edge
}
