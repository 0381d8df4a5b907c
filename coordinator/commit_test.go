package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/mtmcore/mtmcore/barrier"
	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/gid"
	"github.com/mtmcore/mtmcore/hooks"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/protocol"
	"github.com/mtmcore/mtmcore/txn"
)

type fakeLocal struct {
	prepareErr error
	states     []string
}

func (f *fakeLocal) PrepareTransaction(ctx context.Context, gid string) error {
	f.states = append(f.states, "prepare:"+gid)
	return f.prepareErr
}

func (f *fakeLocal) SetPreparedTransactionState(ctx context.Context, gid string, state hooks.PreparedState) error {
	f.states = append(f.states, "state:"+gid+":"+state.String())
	return nil
}

func (f *fakeLocal) FinishPreparedTransaction(ctx context.Context, gid string, commit bool) error {
	if commit {
		f.states = append(f.states, "commit:"+gid)
	} else {
		f.states = append(f.states, "abort:"+gid)
	}
	return nil
}

func onlineMachine(selfID, maxNodes int) *membership.Machine {
	m := membership.New(selfID, maxNodes)
	m.ConfigLoaded()
	m.BeginRecovery()
	m.CaughtUp()
	m.GoOnline()
	return m
}

// replyAs stands in for a participant that, having already locally
// prepared a replicated transaction via the applier (out of scope
// here), pushes its vote straight back to the coordinator three times
// in a row, once per gather phase, spaced out so each phase's gather
// loop picks up the right one.
func replyAs(ctx context.Context, peer int, selfID int, bus *dmq.MemBus, xid uint64, code protocol.Code) {
	q := dmq.NewMemQueue(bus, peer)
	go func() {
		for i := 0; i < 3; i++ {
			reply, err := protocol.Encode(protocol.ArbiterMessage{
				Code: code,
				Node: uint8(peer),
				DXID: xid,
				GID:  gid.New(selfID, xid),
			})
			if err != nil {
				return
			}
			if err := q.Push(selfID, reply); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()
}

func TestCommitHappyPath(t *testing.T) {
	bus := dmq.NewMemBus()
	selfQueue := dmq.NewMemQueue(bus, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	replyAs(ctx, 2, 1, bus, 1, protocol.CodePrepared)
	replyAs(ctx, 3, 1, bus, 1, protocol.CodePrepared)

	machine := onlineMachine(1, 3)
	local := &fakeLocal{}
	c := New(1, machine, barrier.New(), selfQueue, local)

	transaction := txn.NewMtmTx(1, 1)
	err := c.Commit(ctx, transaction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	foundCommit := false
	for _, s := range local.states {
		if s == "commit:"+string(transaction.GID) {
			foundCommit = true
		}
	}
	if !foundCommit {
		t.Fatalf("expected local commit to run, states: %v", local.states)
	}
}

func TestCommitAbortsOnPeerVote(t *testing.T) {
	bus := dmq.NewMemBus()
	selfQueue := dmq.NewMemQueue(bus, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	replyAs(ctx, 2, 1, bus, 1, protocol.CodePrepared)
	replyAs(ctx, 3, 1, bus, 1, protocol.CodeAborted)

	machine := onlineMachine(1, 3)
	local := &fakeLocal{}
	c := New(1, machine, barrier.New(), selfQueue, local)

	transaction := txn.NewMtmTx(1, 1)
	err := c.Commit(ctx, transaction)
	if err == nil {
		t.Fatal("expected PrepareFailed error")
	}
	if _, ok := err.(*PrepareFailed); !ok {
		t.Fatalf("expected PrepareFailed, got %T: %v", err, err)
	}
}

func TestCommitRejectsWhenNotOnline(t *testing.T) {
	bus := dmq.NewMemBus()
	selfQueue := dmq.NewMemQueue(bus, 1)
	machine := membership.New(1, 3) // stays INITIALIZATION
	local := &fakeLocal{}
	c := New(1, machine, barrier.New(), selfQueue, local)

	transaction := txn.NewMtmTx(1, 1)
	err := c.Commit(context.Background(), transaction)
	if _, ok := err.(*WentOffline); !ok {
		t.Fatalf("expected WentOffline, got %v", err)
	}
}

// TestSequentialCommitsPreserveLocalOrder checks that running two
// transactions back-to-back on the same coordinator finishes them
// locally in the order they were issued: the DMQ is in-order per
// sender, and gather drains replies synchronously phase by phase, so a
// second Commit can't finish locally before the first one does.
func TestSequentialCommitsPreserveLocalOrder(t *testing.T) {
	bus := dmq.NewMemBus()
	selfQueue := dmq.NewMemQueue(bus, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	machine := onlineMachine(1, 3)
	local := &fakeLocal{}
	c := New(1, machine, barrier.New(), selfQueue, local)

	replyAs(ctx, 2, 1, bus, 1, protocol.CodePrepared)
	replyAs(ctx, 3, 1, bus, 1, protocol.CodePrepared)
	first := txn.NewMtmTx(1, 1)
	if err := c.Commit(ctx, first); err != nil {
		t.Fatalf("unexpected error on first commit: %v", err)
	}

	replyAs(ctx, 2, 1, bus, 2, protocol.CodePrepared)
	replyAs(ctx, 3, 1, bus, 2, protocol.CodePrepared)
	second := txn.NewMtmTx(1, 2)
	if err := c.Commit(ctx, second); err != nil {
		t.Fatalf("unexpected error on second commit: %v", err)
	}

	firstAt, secondAt := -1, -1
	for i, s := range local.states {
		if s == "commit:"+string(first.GID) && firstAt == -1 {
			firstAt = i
		}
		if s == "commit:"+string(second.GID) && secondAt == -1 {
			secondAt = i
		}
	}
	if firstAt == -1 || secondAt == -1 {
		t.Fatalf("expected both commits to finish locally, states: %v", local.states)
	}
	if firstAt >= secondAt {
		t.Fatalf("expected first transaction to commit locally before the second, states: %v", local.states)
	}
}

func TestCheckMajorityRejectsMinority(t *testing.T) {
	machine := onlineMachine(1, 5)
	c := New(1, machine, barrier.New(), dmq.NewMemQueue(dmq.NewMemBus(), 1), &fakeLocal{})

	err := c.checkMajority(nodemask.Of(2)) // self + 1 peer = 2 of 5, not a majority
	if _, ok := err.(*ErrMajorityNotReached); !ok {
		t.Fatalf("expected ErrMajorityNotReached, got %v", err)
	}
}
