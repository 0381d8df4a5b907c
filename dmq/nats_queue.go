package dmq

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSQueue is the production DMQ transport. Each node subscribes to one
// subject per attached sender ("mtm.dmq.<self>.<peer>"); Push publishes to
// the destination's subject for this sender, and the NATS disconnect
// callback surfaces as peer-detach notifications; a reconnect is only
// logged.
type NATSQueue struct {
	selfID int
	nc     *nats.Conn

	mu    sync.Mutex
	inbox map[int]chan PopResult // keyed by sender node id
	subs  map[int]*nats.Subscription

	onDetachMu sync.Mutex
	onDetach   []func(int)
}

const natsInboxBuffer = 256

// DialNATS connects to url and returns a NATSQueue for selfID.
func DialNATS(url string, selfID int) (*NATSQueue, error) {
	q := &NATSQueue{
		selfID: selfID,
		inbox:  make(map[int]chan PopResult),
		subs:   make(map[int]*nats.Subscription),
	}

	nc, err := nats.Connect(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Int("node_id", selfID).Msg("dmq: lost connection to NATS broker")
			q.notifyAllDetached()
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Int("node_id", selfID).Msg("dmq: reconnected to NATS broker")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dmq: connect to %s: %w", url, err)
	}

	q.nc = nc
	return q, nil
}

func subject(dest, sender int) string {
	return fmt.Sprintf("mtm.dmq.%d.%d", dest, sender)
}

func (q *NATSQueue) senderChan(senderID int) chan PopResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.inbox[senderID]
	if !ok {
		ch = make(chan PopResult, natsInboxBuffer)
		q.inbox[senderID] = ch
	}
	return ch
}

// AttachReceiver subscribes to the peer's per-sender subject.
func (q *NATSQueue) AttachReceiver(name string, senderID int) error {
	ch := q.senderChan(senderID)

	q.mu.Lock()
	if _, already := q.subs[senderID]; already {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	sub, err := q.nc.Subscribe(subject(q.selfID, senderID), func(msg *nats.Msg) {
		ch <- PopResult{SenderID: senderID, Payload: msg.Data}
	})
	if err != nil {
		return fmt.Errorf("dmq: subscribe %s: %w", name, err)
	}

	q.mu.Lock()
	q.subs[senderID] = sub
	q.mu.Unlock()
	return nil
}

// StreamSubscribe subscribes to a named reply stream on this node's own
// subject namespace so late replies routed to it are received.
func (q *NATSQueue) StreamSubscribe(stream string) error {
	_, err := q.nc.Subscribe(fmt.Sprintf("mtm.dmq.stream.%d.%s", q.selfID, stream), func(msg *nats.Msg) {
		q.senderChan(q.selfID) <- PopResult{SenderID: q.selfID, Payload: msg.Data}
	})
	return err
}

// StreamUnsubscribe is a no-op placeholder: this transport keeps
// stream subscriptions for the lifetime of the connection, matching the
// at-most-once/no-redelivery contract the core already assumes.
func (q *NATSQueue) StreamUnsubscribe(stream string) error {
	return nil
}

// Push publishes payload to dest's subject for this sender.
func (q *NATSQueue) Push(dest int, payload []byte) error {
	return q.nc.Publish(subject(dest, q.selfID), payload)
}

// Pop blocks until a sender in mask has produced a message or detached, or
// ctx is done.
func (q *NATSQueue) Pop(ctx context.Context, mask nodemask.Mask) (*PopResult, bool) {
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

func (q *NATSQueue) OnDetach(fn func(peerID int)) {
	q.onDetachMu.Lock()
	defer q.onDetachMu.Unlock()
	q.onDetach = append(q.onDetach, fn)
}

func (q *NATSQueue) notifyAllDetached() {
	q.mu.Lock()
	senders := make([]int, 0, len(q.inbox))
	for id := range q.inbox {
		senders = append(senders, id)
	}
	q.mu.Unlock()

	q.onDetachMu.Lock()
	handlers := append([]func(int){}, q.onDetach...)
	q.onDetachMu.Unlock()

	for _, id := range senders {
		q.senderChan(id) <- PopResult{SenderID: id, Detached: true}
		for _, fn := range handlers {
			fn(id)
		}
	}
}

// Close drains the underlying NATS connection.
func (q *NATSQueue) Close() {
	q.nc.Close()
}
