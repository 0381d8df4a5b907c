// Package coordinator drives the three-phase commit sequence that turns
// a local read-write transaction into a globally durable one: gather
// PREPAREs, gather PRECOMMITs, then gather COMMITs, interlocked with the
// commit barrier and the membership state machine throughout.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/mtmcore/mtmcore/barrier"
	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/hooks"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/protocol"
	"github.com/mtmcore/mtmcore/telemetry"
	"github.com/mtmcore/mtmcore/txn"
	"github.com/rs/zerolog/log"
)

// Coordinator drives the 3PC sequence for transactions originated on
// this node.
type Coordinator struct {
	selfID  int
	machine *membership.Machine
	barrier *barrier.CommitBarrier
	queue   dmq.Queue
	local   hooks.LocalTwoPhase

	// StopNewCommits, when non-nil, is polled at >=1 Hz at the start of
	// Commit; while it reports true the coordinator blocks before
	// acquiring the CommitBarrier. Installed by the wiring code;
	// cmd/mtmcored installs one that always reports false.
	StopNewCommits func() bool

	// Ineligible, when non-nil, reports the peers whose apply worker
	// hasn't finished attaching to this node's replication stream yet
	// (apply.Guard.IneligibleMask). Such peers are excluded from
	// Participants even if membership has them enabled, since they
	// aren't guaranteed to see this PREPARE.
	Ineligible func() nodemask.Mask
}

// New builds a Coordinator for selfID.
func New(selfID int, machine *membership.Machine, b *barrier.CommitBarrier, queue dmq.Queue, local hooks.LocalTwoPhase) *Coordinator {
	return &Coordinator{
		selfID:  selfID,
		machine: machine,
		barrier: b,
		queue:   queue,
		local:   local,
	}
}

// Commit runs the full 3PC sequence for transaction. Once the prepare
// gather and majority check have passed, it returns nil after the local
// commit and the COMMITTED gather; a participant dropped via confirmed
// disablement, or a precommit/commit gather cut short by ctx, is logged
// and left to the resolver rather than reported as an error.
func (c *Coordinator) Commit(ctx context.Context, transaction *txn.MtmTx) error {
	telemetry.ActiveTransactions.Inc()
	defer telemetry.ActiveTransactions.Dec()
	start := time.Now()
	defer func() { telemetry.TxnDurationSeconds.Observe(time.Since(start).Seconds()) }()

	stream := fmt.Sprintf("xid%d", transaction.XID)
	if err := c.queue.StreamSubscribe(stream); err != nil {
		return fmt.Errorf("coordinator: subscribe reply stream: %w", err)
	}
	defer c.queue.StreamUnsubscribe(stream)

	c.waitForBarrierClearance(ctx)
	release := c.barrier.HoldShared()
	defer release()

	if c.machine.State() != membership.Online {
		telemetry.TxnTotal.With("went_offline").Inc()
		return &WentOffline{}
	}

	disabled := c.machine.DisabledMask()
	transaction.Participants = nodemask.Of(fullRange(c.machine.MaxNodes())...).Difference(disabled).Clear(c.selfID)
	if c.Ineligible != nil {
		transaction.Participants = transaction.Participants.Difference(c.Ineligible())
	}

	prepareStart := time.Now()
	if err := c.local.PrepareTransaction(ctx, string(transaction.GID)); err != nil {
		telemetry.PrepareFailuresTotal.With("local").Inc()
		return fmt.Errorf("coordinator: local prepare: %w", err)
	}

	failedAt, err := c.gather(ctx, transaction, transaction.Participants, protocol.CodePrepared, protocol.CodeAborted)
	telemetry.PreparePhaseSeconds.Observe(time.Since(prepareStart).Seconds())
	if err != nil {
		return err
	}
	if failedAt != 0 {
		_ = c.local.FinishPreparedTransaction(ctx, string(transaction.GID), false)
		telemetry.PrepareFailuresTotal.With("remote").Inc()
		return &PrepareFailed{NodeID: failedAt}
	}

	if err := c.checkMajority(transaction.Participants); err != nil {
		_ = c.local.FinishPreparedTransaction(ctx, string(transaction.GID), false)
		return err
	}

	precommitStart := time.Now()
	if err := c.local.SetPreparedTransactionState(ctx, string(transaction.GID), hooks.StatePrecommitted); err != nil {
		return fmt.Errorf("coordinator: set precommitted: %w", err)
	}
	// Past this point the transaction is committed cluster-wide: any
	// peer lost during precommit or commit gather is resolved later by
	// the resolver, never treated as an abort here.
	if _, err := c.gather(ctx, transaction, transaction.Participants, protocol.CodePrecommitted, protocol.CodePrecommitted); err != nil {
		log.Warn().Err(err).Str("gid", string(transaction.GID)).Msg("coordinator: precommit gather interrupted, resolver will finish orphans")
	}
	telemetry.PrecommitPhaseSeconds.Observe(time.Since(precommitStart).Seconds())

	commitStart := time.Now()
	if err := c.local.FinishPreparedTransaction(ctx, string(transaction.GID), true); err != nil {
		return fmt.Errorf("coordinator: local finish commit: %w", err)
	}
	if _, err := c.gather(ctx, transaction, transaction.Participants, protocol.CodeCommitted, protocol.CodeCommitted); err != nil {
		log.Warn().Err(err).Str("gid", string(transaction.GID)).Msg("coordinator: commit gather interrupted, resolver will finish orphans")
	}
	telemetry.CommitPhaseSeconds.Observe(time.Since(commitStart).Seconds())

	telemetry.TxnTotal.With("committed").Inc()
	return nil
}

func (c *Coordinator) waitForBarrierClearance(ctx context.Context) {
	if c.StopNewCommits == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for c.StopNewCommits() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fullRange(maxNodes int) []int {
	ids := make([]int, 0, maxNodes)
	for id := 1; id <= maxNodes; id++ {
		ids = append(ids, id)
	}
	return ids
}

// checkMajority enforces the majority invariant at the end of the
// prepare gather: a strict majority of all_nodes (including self) must
// have accepted. This is a runtime check, not a debug assertion: losing
// majority mid-commit is an expected operational event.
func (c *Coordinator) checkMajority(participants nodemask.Mask) error {
	accepted := participants.Popcount() + 1 // +1 for self
	total := c.machine.MaxNodes()
	if accepted*2 <= total {
		return &ErrMajorityNotReached{Accepted: accepted, Total: total}
	}
	return nil
}

// gather waits for one reply per bit in mask, returning the node id that
// produced abortCode (0 if none did). Any peer that detaches during the
// wait is folded into the membership tracker's disabled_mask and
// recorded as having produced abortCode.
func (c *Coordinator) gather(ctx context.Context, transaction *txn.MtmTx, mask nodemask.Mask, acceptCode, abortCode protocol.Code) (failedAt int, err error) {
	if mask.IsEmpty() {
		return 0, nil
	}

	promises := make(map[int]*future.Promise[protocol.Code], mask.Popcount())
	for _, id := range mask.Nodes() {
		promises[id] = future.NewPromise[protocol.Code]()
	}

	go c.runGatherLoop(ctx, transaction, mask, promises)

	ackCount := 0
	for id, p := range promises {
		code, getErr := p.Future().Get()
		if getErr != nil {
			return 0, fmt.Errorf("coordinator: gather interrupted: %w", getErr)
		}
		ackCount++
		if code == abortCode && abortCode != acceptCode {
			failedAt = id
		}
	}
	telemetry.GatherAcks.With(acceptCode.String()).Observe(float64(ackCount))
	return failedAt, nil
}

func (c *Coordinator) runGatherLoop(ctx context.Context, transaction *txn.MtmTx, mask nodemask.Mask, promises map[int]*future.Promise[protocol.Code]) {
	remaining := mask
	for !remaining.IsEmpty() {
		result, ok := c.queue.Pop(ctx, remaining)
		if !ok {
			c.failRemaining(remaining, promises, ctx.Err())
			return
		}

		peer := result.SenderID
		if result.Detached {
			c.machine.PeerTimedOut(peer)
			promises[peer].Set(protocol.CodeAborted, nil)
			remaining = remaining.Clear(peer)
			continue
		}

		msg, decodeErr := protocol.Decode(result.Payload)
		if decodeErr != nil {
			telemetry.DecodeErrorsTotal.Inc()
			c.machine.PeerTimedOut(peer)
			promises[peer].Set(protocol.CodeAborted, nil)
			remaining = remaining.Clear(peer)
			continue
		}
		if msg.DXID != transaction.XID || int(msg.Node) != peer {
			log.Warn().Uint64("expected_xid", transaction.XID).Uint64("got_xid", msg.DXID).
				Int("expected_node", peer).Uint8("got_node", msg.Node).
				Msg("coordinator: gather reply mismatch, ignoring")
			continue
		}

		promises[peer].Set(msg.Code, nil)
		remaining = remaining.Clear(peer)
	}
}

func (c *Coordinator) failRemaining(mask nodemask.Mask, promises map[int]*future.Promise[protocol.Code], err error) {
	if err == nil {
		err = context.Canceled
	}
	for _, id := range mask.Nodes() {
		promises[id].Set(protocol.Code(0), err)
	}
}
