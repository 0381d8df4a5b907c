// Package devhost is a minimal stand-in for the two interfaces the real
// host database engine is supposed to supply: hooks.LocalTwoPhase and
// apply.ReplicationSubscriber. It exists so cmd/mtmcored can start up and
// exercise membership, the commit barrier, deadlock detection, and the
// admin surface without a real engine attached. It is not, and is not
// meant to become, a host integration: every call just logs and returns
// success, so a single node can be brought up and poked at over the
// admin API during development.
package devhost

import (
	"context"

	"github.com/mtmcore/mtmcore/hooks"
	"github.com/rs/zerolog/log"
)

// LocalTwoPhase logs every call and always succeeds. Swap it out for a
// real adapter once an engine is wired to this core.
type LocalTwoPhase struct{}

func (LocalTwoPhase) PrepareTransaction(ctx context.Context, gid string) error {
	log.Debug().Str("gid", gid).Msg("devhost: local prepare (no-op)")
	return nil
}

func (LocalTwoPhase) SetPreparedTransactionState(ctx context.Context, gid string, state hooks.PreparedState) error {
	log.Debug().Str("gid", gid).Str("state", state.String()).Msg("devhost: local state change (no-op)")
	return nil
}

func (LocalTwoPhase) FinishPreparedTransaction(ctx context.Context, gid string, commit bool) error {
	log.Debug().Str("gid", gid).Bool("commit", commit).Msg("devhost: local finish (no-op)")
	return nil
}

// ReplicationSubscriber logs every call and always succeeds, standing in
// for the logical-replication decoder/applier's subscribe entry point.
type ReplicationSubscriber struct{}

func (ReplicationSubscriber) SubscribeFrom(ctx context.Context, peerID int, lsn uint64) error {
	log.Debug().Int("peer", peerID).Uint64("lsn", lsn).Msg("devhost: subscribe from peer (no-op)")
	return nil
}
