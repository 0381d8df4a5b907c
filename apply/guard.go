// Package apply implements the receiver-side apply guard: the startup
// protocol that brings a new peer's replication stream online without
// letting any in-flight coordinator capture a stale participant set.
package apply

import (
	"context"
	"fmt"
	"sync"

	"github.com/mtmcore/mtmcore/barrier"
	"github.com/mtmcore/mtmcore/nodemask"
)

// ReplicationSubscriber is the logical replication decoder/applier's
// subscribe entry point, consumed only through this interface; the core
// never depends on its concrete implementation.
type ReplicationSubscriber interface {
	SubscribeFrom(ctx context.Context, peerID int, lsn uint64) error
}

// Guard tracks which configured peers are not yet eligible to be
// counted as commit participants, because their apply worker hasn't
// finished attaching to that peer's replication stream.
type Guard struct {
	mu         sync.Mutex
	barrier    *barrier.CommitBarrier
	subscriber ReplicationSubscriber
	ineligible nodemask.Mask
}

// NewGuard builds a Guard where every peer in allPeers starts
// ineligible: none has an apply worker running yet.
func NewGuard(b *barrier.CommitBarrier, subscriber ReplicationSubscriber, allPeers ...int) *Guard {
	return &Guard{
		barrier:    b,
		subscriber: subscriber,
		ineligible: nodemask.Of(allPeers...),
	}
}

// IneligibleMask is consulted by the coordinator and the host hooks when
// computing a transaction's participant set: a peer whose apply worker
// hasn't completed OnPeerJoin must not be counted as a participant, or
// it could see a PRECOMMIT without having seen the matching PREPARE.
func (g *Guard) IneligibleMask() nodemask.Mask {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ineligible
}

// OnPeerJoin runs the apply worker startup protocol for peerID: acquire
// the commit barrier exclusively (draining any in-flight coordinator
// gather so none captures participants mid-install), mark peerID
// eligible, subscribe its replication stream at syncpointLSN, then
// release. After this returns successfully every subsequent coordinator
// capture of participants includes peerID.
func (g *Guard) OnPeerJoin(ctx context.Context, peerID int, syncpointLSN uint64) error {
	release := g.barrier.HoldExclusive()
	defer release()

	g.setEligible(peerID, true)

	if g.subscriber == nil {
		return nil
	}
	if err := g.subscriber.SubscribeFrom(ctx, peerID, syncpointLSN); err != nil {
		g.setEligible(peerID, false)
		return fmt.Errorf("apply: subscribe peer %d at lsn %d: %w", peerID, syncpointLSN, err)
	}
	return nil
}

// OnPeerLeave marks peerID ineligible again, for when its apply worker
// stops (peer disabled, shutdown, or resubscription pending).
func (g *Guard) OnPeerLeave(peerID int) {
	g.setEligible(peerID, false)
}

func (g *Guard) setEligible(peerID int, eligible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if eligible {
		g.ineligible = g.ineligible.Clear(peerID)
	} else {
		g.ineligible = g.ineligible.Set(peerID)
	}
}
