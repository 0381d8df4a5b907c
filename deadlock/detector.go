package deadlock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/gid"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/protocol"
	"github.com/mtmcore/mtmcore/telemetry"
	"github.com/rs/zerolog/log"
)

// defaultFreshnessCacheSize bounds the per-peer recovery_count
// high-water-mark cache; one entry per possible node id is enough.
const defaultFreshnessCacheSize = nodemask.MaxNodes

// Detector merges wait-for graph contributions from every node in the
// clique, runs cycle detection, and broadcasts ABORT for any victim it
// finds. Exactly one node — the lowest id in the clique — runs an active
// Detector at a time; every other node's Reporter forwards to it.
type Detector struct {
	mu            sync.Mutex
	selfID        int
	queue         dmq.Queue
	fresh         *freshnessCache
	contributions map[int]Contribution

	// AbortLocal is invoked instead of a DMQ push when the detector
	// itself participates in the victim transaction. Wired by whatever
	// assembles the node's local hooks/coordinator.
	AbortLocal func(gid.GID) error
}

// NewDetector builds a Detector that runs on selfID.
func NewDetector(selfID int, queue dmq.Queue) *Detector {
	return &Detector{
		selfID:        selfID,
		queue:         queue,
		fresh:         newFreshnessCache(defaultFreshnessCacheSize),
		contributions: make(map[int]Contribution),
	}
}

// Ingest records a contribution, discarding it if a fresher one from the
// same node has already been seen.
func (d *Detector) Ingest(c Contribution) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.fresh.admit(c.NodeID, c.RecoveryCount) {
		log.Debug().Int("node_id", c.NodeID).Uint64("recovery_count", c.RecoveryCount).
			Msg("deadlock: stale contribution discarded")
		return
	}
	d.contributions[c.NodeID] = c
}

// RunInbox pops contributions pushed by peers over the DMQ, decoding and
// ingesting each, until ctx is done. Detached senders simply stop
// producing; RunInbox keeps listening to the rest.
func (d *Detector) RunInbox(ctx context.Context, peers nodemask.Mask) {
	for {
		result, ok := d.queue.Pop(ctx, peers)
		if !ok {
			return
		}
		if result.Detached {
			continue
		}

		c, err := DecodeContribution(result.Payload)
		if err != nil {
			telemetry.DecodeErrorsTotal.Inc()
			log.Warn().Err(err).Int("sender", result.SenderID).Msg("deadlock: decode contribution failed")
			continue
		}
		d.Ingest(c)
	}
}

// Run drives both the inbox and the periodic detection pass until ctx is
// done. peers is the set of other nodes that may forward contributions
// to this detector while it holds the role.
func (d *Detector) Run(ctx context.Context, peers nodemask.Mask, interval time.Duration) {
	go d.RunInbox(ctx, peers)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DetectAndResolve(ctx)
		}
	}
}

// mergeGraph rewrites purely-local edges out and keeps only edges
// between two GID-tagged vertices, plus the set of contributing nodes
// that mentioned each GID (its known participants).
func (d *Detector) mergeGraph() (graph map[gid.GID]map[gid.GID]bool, participants map[gid.GID]nodemask.Mask) {
	graph = make(map[gid.GID]map[gid.GID]bool)
	participants = make(map[gid.GID]nodemask.Mask)

	for _, c := range d.contributions {
		for _, e := range c.Edges {
			if e.Waiter.GID != "" {
				participants[e.Waiter.GID] = participants[e.Waiter.GID].Set(c.NodeID)
			}
			if e.Holder.GID != "" {
				participants[e.Holder.GID] = participants[e.Holder.GID].Set(c.NodeID)
			}
			if e.Waiter.GID == "" || e.Holder.GID == "" {
				continue // purely local, the host engine handles it
			}
			if graph[e.Waiter.GID] == nil {
				graph[e.Waiter.GID] = make(map[gid.GID]bool)
			}
			graph[e.Waiter.GID][e.Holder.GID] = true
		}
	}
	return graph, participants
}

// DetectAndResolve runs one detection pass: merge, find cycles, abort the
// lowest-GID victim of each, and return the victims aborted.
func (d *Detector) DetectAndResolve(ctx context.Context) []gid.GID {
	d.mu.Lock()
	graph, participants := d.mergeGraph()
	d.mu.Unlock()

	var victims []gid.GID
	for _, cycle := range findCycles(graph) {
		victim := lowestGID(cycle)
		victims = append(victims, victim)
		d.broadcastAbort(ctx, victim, participants[victim])
	}
	return victims
}

// GraphSnapshot returns the current merged wait-for graph, keyed by
// waiter GID with each entry listing the GIDs it is waiting on.
// Diagnostics only: it reflects whatever contributions have been
// ingested so far, not a decision input.
func (d *Detector) GraphSnapshot() map[gid.GID][]gid.GID {
	d.mu.Lock()
	graph, _ := d.mergeGraph()
	d.mu.Unlock()

	out := make(map[gid.GID][]gid.GID, len(graph))
	for waiter, holders := range graph {
		list := make([]gid.GID, 0, len(holders))
		for holder := range holders {
			list = append(list, holder)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[waiter] = list
	}
	return out
}

func (d *Detector) broadcastAbort(ctx context.Context, victim gid.GID, participants nodemask.Mask) {
	log.Info().Str("gid", string(victim)).Msg("deadlock: cycle found, aborting victim")

	for _, node := range participants.Nodes() {
		if node == d.selfID {
			if d.AbortLocal != nil {
				if err := d.AbortLocal(victim); err != nil {
					log.Warn().Err(err).Str("gid", string(victim)).Msg("deadlock: local abort failed")
				}
			}
			continue
		}
		msg, err := protocol.Encode(protocol.ArbiterMessage{Code: protocol.CodeAbort, Node: uint8(d.selfID), GID: victim})
		if err != nil {
			log.Warn().Err(err).Msg("deadlock: encode ABORT failed")
			continue
		}
		if err := d.queue.Push(node, msg); err != nil {
			log.Warn().Err(err).Int("node_id", node).Str("gid", string(victim)).Msg("deadlock: push ABORT failed")
		}
	}
}

// lowestGID returns the lexicographically smallest GID in cycle,
// matching the detector's "lowest GID, stable and deterministic" victim
// rule.
func lowestGID(cycle []gid.GID) gid.GID {
	sorted := append([]gid.GID(nil), cycle...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[0]
}

// findCycles runs DFS over graph, returning every distinct cycle found
// as the ordered list of vertices it visits.
func findCycles(graph map[gid.GID]map[gid.GID]bool) [][]gid.GID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[gid.GID]int)
	stack := make([]gid.GID, 0)
	var cycles [][]gid.GID

	// Deterministic iteration order keeps results reproducible.
	nodes := make([]gid.GID, 0, len(graph))
	for v := range graph {
		nodes = append(nodes, v)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	var visit func(v gid.GID)
	visit = func(v gid.GID) {
		color[v] = gray
		stack = append(stack, v)

		neighbors := make([]gid.GID, 0, len(graph[v]))
		for n := range graph[v] {
			neighbors = append(neighbors, n)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

		for _, n := range neighbors {
			switch color[n] {
			case white:
				visit(n)
			case gray:
				cycles = append(cycles, cycleFrom(stack, n))
			}
		}

		stack = stack[:len(stack)-1]
		color[v] = black
	}

	for _, v := range nodes {
		if color[v] == white {
			visit(v)
		}
	}
	return cycles
}

// cycleFrom extracts the cycle formed by stack once it revisits target.
func cycleFrom(stack []gid.GID, target gid.GID) []gid.GID {
	for i, v := range stack {
		if v == target {
			return append([]gid.GID(nil), stack[i:]...)
		}
	}
	return nil
}
