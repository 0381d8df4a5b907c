package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/gid"
	"github.com/mtmcore/mtmcore/hooks"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/protocol"
	"github.com/rs/zerolog/log"
)

// DefaultScanInterval is how often Run checks for new orphans.
const DefaultScanInterval = 5 * time.Second

// DefaultPollTimeout bounds how long Resolve waits for STATUS replies
// before treating unanswered peers as UNKNOWN.
const DefaultPollTimeout = 2 * time.Second

// Resolver drives orphaned-PREPARE resolution for this node.
type Resolver struct {
	selfID      int
	machine     *membership.Machine
	queue       dmq.Queue
	local       hooks.LocalTwoPhase
	status      *StatusTracker
	PollTimeout time.Duration
}

// New builds a Resolver for selfID.
func New(selfID int, machine *membership.Machine, queue dmq.Queue, local hooks.LocalTwoPhase, status *StatusTracker) *Resolver {
	return &Resolver{
		selfID:      selfID,
		machine:     machine,
		queue:       queue,
		local:       local,
		status:      status,
		PollTimeout: DefaultPollTimeout,
	}
}

// Run scans for orphans every interval and resolves each found, until
// ctx is done.
func (r *Resolver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, g := range r.status.Orphans() {
				if err := r.Resolve(ctx, g); err != nil {
					log.Warn().Err(err).Str("gid", string(g)).Msg("resolver: resolve failed, will retry next scan")
				}
			}
		}
	}
}

// Resolve drives one GID's orphan resolution to completion. It is
// idempotent: a GID already resolved to COMMITTED/ABORTED is a no-op, so
// repeated calls (from overlapping scans, or a retry after a failed
// local finish) are safe.
func (r *Resolver) Resolve(ctx context.Context, g gid.GID) error {
	state, ok := r.status.State(g)
	if !ok || state == hooks.StateCommitted || state == hooks.StateAborted {
		return nil
	}

	peers := r.machine.Clique().Clear(r.selfID)
	responses := r.poll(ctx, g, peers)
	commit := decide(state, responses)

	if err := r.local.FinishPreparedTransaction(ctx, string(g), commit); err != nil {
		return fmt.Errorf("resolver: finish prepared %s: %w", g, err)
	}

	if commit {
		r.status.Record(g, hooks.StateCommitted)
	} else {
		r.status.Record(g, hooks.StateAborted)
	}
	log.Info().Str("gid", string(g)).Bool("commit", commit).Int("peers_polled", len(responses)).
		Msg("resolver: orphan resolved")
	return nil
}

// decide applies the presumed-commit-after-precommit rule: any COMMIT
// answer wins outright, else any ABORT answer wins, else fall back to
// this node's own last known progress.
func decide(selfState hooks.PreparedState, responses map[int]Outcome) bool {
	sawAbort := false
	for _, o := range responses {
		if o == OutcomeCommit {
			return true
		}
		if o == OutcomeAbort {
			sawAbort = true
		}
	}
	if sawAbort {
		return false
	}
	return selfState == hooks.StatePrecommitted
}

// poll sends POLL_STATUS(g) to every peer in mask and collects STATUS
// replies until PollTimeout elapses. A peer that never answers is simply
// absent from the result map, which decide treats the same as UNKNOWN.
func (r *Resolver) poll(ctx context.Context, g gid.GID, peers nodemask.Mask) map[int]Outcome {
	responses := make(map[int]Outcome, peers.Popcount())
	if peers.IsEmpty() {
		return responses
	}

	for _, peer := range peers.Nodes() {
		msg, err := protocol.Encode(protocol.ArbiterMessage{Code: protocol.CodePollStatus, Node: uint8(r.selfID), GID: g})
		if err != nil {
			log.Error().Err(err).Msg("resolver: encode POLL_STATUS failed")
			continue
		}
		if err := r.queue.Push(peer, msg); err != nil {
			log.Debug().Err(err).Int("peer_id", peer).Msg("resolver: push POLL_STATUS failed")
		}
	}

	pollCtx, cancel := context.WithTimeout(ctx, r.PollTimeout)
	defer cancel()

	remaining := peers
	for !remaining.IsEmpty() {
		result, ok := r.queue.Pop(pollCtx, remaining)
		if !ok {
			break
		}
		if result.Detached {
			remaining = remaining.Clear(result.SenderID)
			continue
		}

		reply, err := protocol.Decode(result.Payload)
		if err != nil || reply.GID != g || reply.Code != protocol.CodeStatus {
			continue
		}
		responses[result.SenderID] = Outcome(reply.OXID)
		remaining = remaining.Clear(result.SenderID)
	}
	return responses
}

// ServeStatusRequests answers POLL_STATUS requests from peers until ctx
// is done. Run in its own goroutine alongside Run.
func (r *Resolver) ServeStatusRequests(ctx context.Context, peers nodemask.Mask) {
	for {
		result, ok := r.queue.Pop(ctx, peers)
		if !ok {
			return
		}
		if result.Detached {
			continue
		}

		request, err := protocol.Decode(result.Payload)
		if err != nil || request.Code != protocol.CodePollStatus {
			continue
		}

		outcome := r.status.Outcome(request.GID)
		reply, err := protocol.Encode(protocol.ArbiterMessage{
			Code: protocol.CodeStatus,
			Node: uint8(r.selfID),
			GID:  request.GID,
			OXID: uint64(outcome),
		})
		if err != nil {
			log.Error().Err(err).Msg("resolver: encode STATUS reply failed")
			continue
		}
		if err := r.queue.Push(result.SenderID, reply); err != nil {
			log.Debug().Err(err).Int("peer_id", result.SenderID).Msg("resolver: push STATUS reply failed")
		}
	}
}
