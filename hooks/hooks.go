// Package hooks defines the boundary between the core and the host
// database engine: the engine calls into HostHooks at the points named
// in its transaction lifecycle, and the core calls back into the
// engine's local two-phase-commit primitives via LocalTwoPhase.
package hooks

import (
	"context"

	"github.com/mtmcore/mtmcore/barrier"
	"github.com/mtmcore/mtmcore/cfg"
	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/txn"
)

// CoreContext is the explicit, single process-wide owner of the state
// every hook needs, replacing a global singleton. The host-integration
// glue constructs one at startup and passes it to every hook
// registration.
type CoreContext struct {
	SelfID  int
	Config  *cfg.Configuration
	Machine *membership.Machine
	Barrier *barrier.CommitBarrier
	Queue   dmq.Queue
}

// HostHooks is implemented by the core and called by the host engine at
// each named point in a session's lifecycle.
type HostHooks interface {
	// OnTxStart fires at transaction start. A session on any database
	// other than the configured one is left local with a nil error. On
	// the configured database it returns ClusterNotOnline unless the node
	// is ONLINE, and otherwise marks the transaction distributed.
	OnTxStart(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, database string) error

	// OnPrePrepare fires before the host prepares locally. It requires
	// database to match the configured database, else WrongDatabase.
	OnPrePrepare(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, database string) error

	// OnCommitCommand fires at the commit command. If the transaction is
	// distributed and contains DML, the caller should run the 3PC
	// sequence (coordinator.Commit); otherwise it falls through to a
	// local commit.
	OnCommitCommand(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx) error

	// OnExecutorStart and OnExecutorFinish bracket per-statement
	// execution, used to detect DML for contains_dml bookkeeping.
	OnExecutorStart(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx) error
	OnExecutorFinish(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, wroteRows bool) error

	// OnUtility captures a DDL statement, prepending any standing GUC
	// overrides so replicated DDL carries the session settings it was
	// issued under. Returns the string to forward verbatim to peers.
	OnUtility(ctx context.Context, cc *CoreContext, transaction *txn.MtmTx, ddl string) (string, error)

	// OnSeqNextval is consulted when monotonic_sequences is enabled, to
	// derive a cluster-wide monotonic value instead of the host's local
	// sequence cache.
	OnSeqNextval(ctx context.Context, cc *CoreContext, seqName string, localNext int64) (int64, error)
}

// LocalTwoPhase is the subset of the host engine's local 2PC machinery
// the coordinator calls into directly; it is supplied by the host, not
// implemented by the core.
type LocalTwoPhase interface {
	// PrepareTransaction runs the local PREPARE TRANSACTION equivalent
	// for gid.
	PrepareTransaction(ctx context.Context, gid string) error

	// SetPreparedTransactionState records gid's local phase (used to
	// mark PRECOMMITTED between gather rounds).
	SetPreparedTransactionState(ctx context.Context, gid string, state PreparedState) error

	// FinishPreparedTransaction finalizes gid locally, committing or
	// aborting depending on commit.
	FinishPreparedTransaction(ctx context.Context, gid string, commit bool) error
}

// PreparedState is the local phase of a prepared transaction, tracked
// independently of the distributed gather state so a crash can resume
// from the last durable local phase.
type PreparedState int

const (
	StatePrepared PreparedState = iota
	StatePrecommitted
	StateCommitted
	StateAborted
)

func (s PreparedState) String() string {
	switch s {
	case StatePrepared:
		return "PREPARED"
	case StatePrecommitted:
		return "PRECOMMITTED"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}
