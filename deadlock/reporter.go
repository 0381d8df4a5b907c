package deadlock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/rs/zerolog/log"
)

// DefaultReportInterval matches the deadlock check period default.
const DefaultReportInterval = time.Second

// Reporter periodically ships this node's local wait-for graph to the
// elected detector node (the lowest-id member of the current clique).
// When self is elected, the contribution is fed to the local Detector
// in-process instead of round-tripping through the DMQ.
type Reporter struct {
	selfID   int
	graph    *LocalGraph
	machine  *membership.Machine
	queue    dmq.Queue
	detector *Detector
	interval time.Duration

	recoveryCount uint64
}

// NewReporter builds a Reporter for selfID. detector is the in-process
// Detector to feed directly when this node is itself elected.
func NewReporter(selfID int, graph *LocalGraph, machine *membership.Machine, queue dmq.Queue, detector *Detector) *Reporter {
	return &Reporter{
		selfID:   selfID,
		graph:    graph,
		machine:  machine,
		queue:    queue,
		detector: detector,
		interval: DefaultReportInterval,
	}
}

// NoteRecovery bumps this node's recovery epoch, invalidating any
// in-flight contributions tagged with the prior epoch once a fresher one
// arrives at the detector. Call on every DISABLED -> RECOVERY entry.
func (r *Reporter) NoteRecovery() {
	atomic.AddUint64(&r.recoveryCount, 1)
}

// Run drives the periodic report loop until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reportOnce()
		}
	}
}

func (r *Reporter) reportOnce() {
	contribution := Contribution{
		NodeID:        r.selfID,
		RecoveryCount: atomic.LoadUint64(&r.recoveryCount),
		Edges:         r.graph.Snapshot(),
	}

	detectorID := r.electedDetector()
	if detectorID == r.selfID {
		r.detector.Ingest(contribution)
		return
	}

	payload, err := EncodeContribution(contribution)
	if err != nil {
		log.Warn().Err(err).Msg("deadlock: encode contribution failed")
		return
	}
	if err := r.queue.Push(detectorID, payload); err != nil {
		log.Warn().Err(err).Int("detector", detectorID).Msg("deadlock: push contribution failed")
	}
}

// electedDetector is the lowest node id in the current clique, self
// included.
func (r *Reporter) electedDetector() int {
	clique := r.machine.Clique().Set(r.selfID)
	return clique.LowestSet()
}
