package dmq

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/mtmcore/mtmcore/nodemask"
)

// MemBus is the in-process transport shared by every node's MemQueue in a
// test or seed-scenario cluster. It plays the role a real broker plays for
// dmq.NATSQueue.
type MemBus struct {
	mu    sync.Mutex
	nodes map[int]*MemQueue
}

// NewMemBus creates an empty in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{nodes: make(map[int]*MemQueue)}
}

func (b *MemBus) register(q *MemQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[q.selfID] = q
}

func (b *MemBus) lookup(nodeID int) (*MemQueue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.nodes[nodeID]
	return q, ok
}

// Detach simulates nodeID disconnecting from every other attached queue on
// the bus: each queue that has attached nodeID as a sender observes a
// detach notification on its next Pop.
func (b *MemBus) Detach(nodeID int) {
	b.mu.Lock()
	queues := make([]*MemQueue, 0, len(b.nodes))
	for id, q := range b.nodes {
		if id == nodeID {
			continue
		}
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		q.markDetached(nodeID)
	}
}

// MemQueue is the in-process reference DMQ transport for tests and the seed
// scenario suite. Grounded on notify.Hub's per-subscriber channel pattern:
// instead of fanning signals out to many readers, each sender gets its own
// ordered channel into this node's inbox, and Pop multiplexes across the
// subset named by its mask.
type MemQueue struct {
	selfID int
	bus    *MemBus

	mu       sync.Mutex
	inbox    map[int]chan PopResult // keyed by sender node id
	detached map[int]bool
	streams  map[string]bool

	onDetachMu sync.Mutex
	onDetach   []func(int)
}

const inboxBuffer = 256

// NewMemQueue creates a MemQueue for selfID attached to bus.
func NewMemQueue(bus *MemBus, selfID int) *MemQueue {
	q := &MemQueue{
		selfID:   selfID,
		bus:      bus,
		inbox:    make(map[int]chan PopResult),
		detached: make(map[int]bool),
		streams:  make(map[string]bool),
	}
	bus.register(q)
	return q
}

func (q *MemQueue) senderChan(senderID int) chan PopResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.inbox[senderID]
	if !ok {
		ch = make(chan PopResult, inboxBuffer)
		q.inbox[senderID] = ch
	}
	return ch
}

func (q *MemQueue) AttachReceiver(name string, senderID int) error {
	q.senderChan(senderID)
	return nil
}

func (q *MemQueue) StreamSubscribe(stream string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streams[stream] = true
	return nil
}

func (q *MemQueue) StreamUnsubscribe(stream string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.streams, stream)
	return nil
}

func (q *MemQueue) Push(dest int, payload []byte) error {
	peer, ok := q.bus.lookup(dest)
	if !ok {
		return fmt.Errorf("dmq: no such node %d", dest)
	}

	ch := peer.senderChan(q.selfID)
	ch <- PopResult{SenderID: q.selfID, Payload: payload}
	return nil
}

func (q *MemQueue) markDetached(senderID int) {
	q.mu.Lock()
	already := q.detached[senderID]
	q.detached[senderID] = true
	q.mu.Unlock()

	if already {
		return
	}

	ch := q.senderChan(senderID)
	ch <- PopResult{SenderID: senderID, Detached: true}

	q.onDetachMu.Lock()
	handlers := append([]func(int){}, q.onDetach...)
	q.onDetachMu.Unlock()
	for _, fn := range handlers {
		fn(senderID)
	}
}

func (q *MemQueue) OnDetach(fn func(peerID int)) {
	q.onDetachMu.Lock()
	defer q.onDetachMu.Unlock()
	q.onDetach = append(q.onDetach, fn)
}

// Pop blocks until a sender in mask produces a message or detaches, or ctx
// is done.
func (q *MemQueue) Pop(ctx context.Context, mask nodemask.Mask) (*PopResult, bool) {
	nodeIDs := mask.Nodes()
	if len(nodeIDs) == 0 {
		<-ctx.Done()
		return nil, false
	}

	cases := make([]reflect.SelectCase, 0, len(nodeIDs)+1)
	for _, id := range nodeIDs {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(q.senderChan(id)),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, value, _ := reflect.Select(cases)
	if chosen == len(cases)-1 {
		return nil, false
	}

	result := value.Interface().(PopResult)
	return &result, true
}
