// Package dmq defines the directed message queue contract the core consumes
// for inter-node transport: a reliable, in-order, at-most-once channel per
// sender, with disconnect notifications. The core never depends on a
// concrete transport directly — only on this interface.
package dmq

import (
	"context"

	"github.com/mtmcore/mtmcore/nodemask"
)

// PopResult is one item returned by Pop: either a payload from senderID, or
// a notification that senderID has detached.
type PopResult struct {
	SenderID int
	Payload  []byte
	Detached bool
}

// Queue is the DMQ contract consumed by the coordinator, the membership
// heartbeat tracker, the deadlock detector, and the resolver.
type Queue interface {
	// AttachReceiver registers interest in messages from senderID under the
	// given logical receiver name (multiple names may share one sender).
	AttachReceiver(name string, senderID int) error

	// StreamSubscribe opens a named reply stream (e.g. "xid<xid>") so late
	// replies addressed to it are routed back to this node.
	StreamSubscribe(stream string) error

	// StreamUnsubscribe closes a previously opened reply stream.
	StreamUnsubscribe(stream string) error

	// Pop blocks until a sender in mask has produced a message or detached,
	// or ctx is done. It returns ok=false only when ctx is done.
	Pop(ctx context.Context, mask nodemask.Mask) (result *PopResult, ok bool)

	// Push sends payload to dest, in order relative to this node's other
	// pushes to dest.
	Push(dest int, payload []byte) error

	// OnDetach registers a callback invoked whenever a peer detaches. It is
	// used by the membership tracker to demote peers without polling Pop.
	OnDetach(fn func(peerID int))
}
