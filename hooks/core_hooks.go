package hooks

import (
	"context"

	"github.com/mtmcore/mtmcore/hlc"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/txn"
	"github.com/rs/zerolog/log"
)

// CoreHooks is the core's implementation of HostHooks.
type CoreHooks struct {
	database     string
	remoteFuncs  *RemoteFunctionMatcher
	monotonicSeq bool
	ineligible   func() nodemask.Mask
	clock        *hlc.Clock
}

// NewCoreHooks builds the core's HostHooks implementation. database is
// the single configured multimaster database; remoteFuncs matches
// against the remote_functions configuration.
func NewCoreHooks(database string, remoteFuncs *RemoteFunctionMatcher, monotonicSequences bool) *CoreHooks {
	return &CoreHooks{
		database:     database,
		remoteFuncs:  remoteFuncs,
		monotonicSeq: monotonicSequences,
	}
}

// SetIneligibilityGate wires in the receiver-side apply guard's
// IneligibleMask, excluding peers whose apply worker hasn't finished
// attaching to this node's replication stream from future participant
// sets. Safe to call before the gate is ready; nil disables the check.
func (h *CoreHooks) SetIneligibilityGate(fn func() nodemask.Mask) {
	h.ineligible = fn
}

// SetClock wires in the process-wide monotonic clock used to stamp
// transactions as they start. Safe to leave unset; StartedAt is simply
// never populated.
func (h *CoreHooks) SetClock(clock *hlc.Clock) {
	h.clock = clock
}

func (h *CoreHooks) OnTxStart(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, database string) error {
	if database != h.database {
		return nil
	}
	if cc.Machine.State() != membership.Online {
		return &ClusterNotOnline{}
	}
	transaction.IsDistributed = true
	if h.clock != nil {
		transaction.StartedAt = h.clock.Now()
	}
	return nil
}

func (h *CoreHooks) OnPrePrepare(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, database string) error {
	if !transaction.IsDistributed {
		return nil
	}
	if database != h.database {
		return &WrongDatabase{Database: database}
	}

	disabled := cc.Machine.DisabledMask()
	all := nodemask.Of(fullNodeRange(cc.Machine.MaxNodes())...)
	participants := all.Difference(disabled).Clear(cc.SelfID)
	if h.ineligible != nil {
		participants = participants.Difference(h.ineligible())
	}
	transaction.Participants = participants
	return nil
}

// fullNodeRange lists every node id in the cluster's configured size.
func fullNodeRange(maxNodes int) []int {
	ids := make([]int, 0, maxNodes)
	for id := 1; id <= maxNodes; id++ {
		ids = append(ids, id)
	}
	return ids
}

func (h *CoreHooks) OnCommitCommand(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx) error {
	// The coordinator package drives the 3PC sequence itself; this hook
	// only exists so the host has a single named call site per the
	// lifecycle it walks through.
	return nil
}

func (h *CoreHooks) OnExecutorStart(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx) error {
	return nil
}

func (h *CoreHooks) OnExecutorFinish(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, wroteRows bool) error {
	if wroteRows {
		transaction.ContainsDML = true
	}
	return nil
}

func (h *CoreHooks) OnUtility(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, ddl string) (string, error) {
	overrides := NewGUCOverrides()
	// The override map is built empty here and nothing adds to it:
	// session settings are not read from ctx, cc or the transaction, so
	// the DDL is forwarded unmodified.
	return overrides.PrependTo(ddl), nil
}

// OnSeqNextval returns localNext unchanged whether or not monotonic
// sequences are enabled; no cluster-wide value is derived here.
func (h *CoreHooks) OnSeqNextval(ctx context.Context, cc *CoreContext, seqName string, localNext int64) (int64, error) {
	if !h.monotonicSeq {
		return localNext, nil
	}
	log.Debug().Str("sequence", seqName).Int64("local_next", localNext).Msg("hooks: monotonic sequence requested, deferring to host cache")
	return localNext, nil
}
