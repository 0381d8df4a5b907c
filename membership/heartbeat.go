package membership

import (
	"context"
	"time"

	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/protocol"
	"github.com/mtmcore/mtmcore/telemetry"
	"github.com/rs/zerolog/log"
)

// HeartbeatTracker periodically broadcasts HEARTBEAT messages over the
// DMQ and watches for peers that have gone quiet past
// heartbeat_recv_timeout, feeding both directions back into a Machine.
type HeartbeatTracker struct {
	machine *Machine
	queue   dmq.Queue

	sendInterval time.Duration
	recvTimeout  time.Duration

	lastSeen map[int]time.Time
}

// NewHeartbeatTracker builds a tracker for peers in peerIDs, sending at
// sendInterval and considering a peer disabled after recvTimeout of
// silence (default 5x sendInterval, per the caller's configuration).
func NewHeartbeatTracker(machine *Machine, queue dmq.Queue, sendInterval, recvTimeout time.Duration, peerIDs []int) *HeartbeatTracker {
	lastSeen := make(map[int]time.Time, len(peerIDs))
	now := time.Now()
	for _, id := range peerIDs {
		lastSeen[id] = now
	}
	return &HeartbeatTracker{
		machine:      machine,
		queue:        queue,
		sendInterval: sendInterval,
		recvTimeout:  recvTimeout,
		lastSeen:     lastSeen,
	}
}

// Run broadcasts heartbeats and checks for timeouts until ctx is
// cancelled. It is meant to be run in its own goroutine.
func (t *HeartbeatTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.broadcast()
			t.checkTimeouts()
		}
	}
}

func (t *HeartbeatTracker) broadcast() {
	msg := protocol.ArbiterMessage{
		Code:             protocol.CodeHeartbeat,
		ConnectivityMask: uint64(t.machine.ConnectivityMask()),
	}

	for peer := range t.lastSeen {
		msg.Node = uint8(peer)
		data, err := protocol.Encode(msg)
		if err != nil {
			log.Error().Err(err).Msg("membership: encode heartbeat")
			continue
		}
		if err := t.queue.Push(peer, data); err != nil {
			log.Debug().Err(err).Int("peer_id", peer).Msg("membership: heartbeat push failed")
			continue
		}
		telemetry.HeartbeatsSentTotal.Inc()
	}
}

func (t *HeartbeatTracker) checkTimeouts() {
	now := time.Now()
	for peer, seen := range t.lastSeen {
		if now.Sub(seen) > t.recvTimeout {
			telemetry.HeartbeatsMissedTotal.Inc()
			t.machine.PeerTimedOut(peer)
		}
	}
}

// OnMessage feeds a decoded ArbiterMessage received from sender into the
// tracker. Any code refreshes liveness; CodeHeartbeat additionally merges
// the sender's connectivity_mask into the clique view.
func (t *HeartbeatTracker) OnMessage(sender int, msg protocol.ArbiterMessage) {
	t.lastSeen[sender] = time.Now()
	if msg.Code == protocol.CodeHeartbeat {
		t.machine.PeerHeartbeat(sender, nodemask.Mask(msg.ConnectivityMask))
	}
}

// OnDetach marks the peer disabled immediately. Registered as a DMQ
// transport's OnDetach callback, it lets a definitive detach notification
// take effect without waiting out the full recv timeout.
func (t *HeartbeatTracker) OnDetach(peer int) {
	t.machine.PeerTimedOut(peer)
}

// Peers returns the node ids this tracker is currently watching.
func (t *HeartbeatTracker) Peers() []int {
	ids := make([]int, 0, len(t.lastSeen))
	for id := range t.lastSeen {
		ids = append(ids, id)
	}
	return ids
}
