package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/hooks"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/protocol"
)

type fakeLocal struct {
	commits []string
	aborts  []string
}

func (f *fakeLocal) PrepareTransaction(ctx context.Context, gid string) error { return nil }
func (f *fakeLocal) SetPreparedTransactionState(ctx context.Context, gid string, state hooks.PreparedState) error {
	return nil
}
func (f *fakeLocal) FinishPreparedTransaction(ctx context.Context, gid string, commit bool) error {
	if commit {
		f.commits = append(f.commits, gid)
	} else {
		f.aborts = append(f.aborts, gid)
	}
	return nil
}

func onlineMachine(t *testing.T, selfID, maxNodes int, peers ...int) *membership.Machine {
	t.Helper()
	m := membership.New(selfID, maxNodes)
	m.ConfigLoaded()
	m.BeginRecovery()
	m.CaughtUp()
	m.GoOnline()
	for _, p := range peers {
		m.PeerHeartbeat(p, 0)
	}
	return m
}

func TestDecideCommitsOnAnyCommitVote(t *testing.T) {
	commit := decide(hooks.StatePrepared, map[int]Outcome{2: OutcomeUnknown, 3: OutcomeCommit})
	if !commit {
		t.Fatal("expected commit when any peer reports COMMIT")
	}
}

func TestDecideAbortsOnAnyAbortVoteWhenNoCommit(t *testing.T) {
	commit := decide(hooks.StatePrecommitted, map[int]Outcome{2: OutcomeAbort, 3: OutcomeUnknown})
	if commit {
		t.Fatal("expected abort when any peer reports ABORT and none report COMMIT")
	}
}

func TestDecidePresumesCommitPastPrecommitWhenAllUnknown(t *testing.T) {
	commit := decide(hooks.StatePrecommitted, map[int]Outcome{2: OutcomeUnknown, 3: OutcomeUnknown})
	if !commit {
		t.Fatal("expected presumed commit when self is past PRECOMMIT and all peers are UNKNOWN")
	}
}

func TestDecideAbortsWhenOnlyPreparedAndAllUnknown(t *testing.T) {
	commit := decide(hooks.StatePrepared, map[int]Outcome{2: OutcomeUnknown})
	if commit {
		t.Fatal("expected abort when self is only PREPARED and all peers are UNKNOWN")
	}
}

func TestResolveIsIdempotentOnceTerminal(t *testing.T) {
	status := NewStatusTracker()
	status.Record("MTM-1-1", hooks.StateCommitted)
	local := &fakeLocal{}
	r := New(1, onlineMachine(t, 1, 3), dmq.NewMemQueue(dmq.NewMemBus(), 1), local, status)

	if err := r.Resolve(context.Background(), "MTM-1-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(local.commits) != 0 || len(local.aborts) != 0 {
		t.Fatalf("expected no local finish call on an already-terminal GID, got commits=%v aborts=%v", local.commits, local.aborts)
	}
}

func TestResolvePollsPeersAndAppliesStatusReply(t *testing.T) {
	bus := dmq.NewMemBus()
	selfQueue := dmq.NewMemQueue(bus, 1)
	peerQueue := dmq.NewMemQueue(bus, 2)

	status := NewStatusTracker()
	status.Record("MTM-1-1", hooks.StatePrepared)
	local := &fakeLocal{}
	machine := onlineMachine(t, 1, 2, 2)
	r := New(1, machine, selfQueue, local, status)
	r.PollTimeout = 500 * time.Millisecond

	// Stands in for peer 2's ServeStatusRequests: answers the next poll
	// addressed to it with ABORT.
	go func() {
		result, ok := peerQueue.Pop(context.Background(), nodemask.Of(1))
		if !ok || result.Detached {
			return
		}
		reply, err := protocol.Encode(protocol.ArbiterMessage{
			Code: protocol.CodeStatus,
			Node: 2,
			GID:  "MTM-1-1",
			OXID: uint64(OutcomeAbort),
		})
		if err != nil {
			return
		}
		_ = peerQueue.Push(1, reply)
	}()

	if err := r.Resolve(context.Background(), "MTM-1-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(local.aborts) != 1 || local.aborts[0] != "MTM-1-1" {
		t.Fatalf("expected local abort of MTM-1-1, got commits=%v aborts=%v", local.commits, local.aborts)
	}
	if state, _ := status.State("MTM-1-1"); state != hooks.StateAborted {
		t.Fatalf("expected tracker to record StateAborted, got %v", state)
	}
}

func TestResolveFallsBackToPresumedOutcomeOnPollTimeout(t *testing.T) {
	bus := dmq.NewMemBus()
	selfQueue := dmq.NewMemQueue(bus, 1)
	dmq.NewMemQueue(bus, 2) // never answers

	status := NewStatusTracker()
	status.Record("MTM-1-1", hooks.StatePrecommitted)
	local := &fakeLocal{}
	r := New(1, onlineMachine(t, 1, 2, 2), selfQueue, local, status)
	r.PollTimeout = 50 * time.Millisecond

	if err := r.Resolve(context.Background(), "MTM-1-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(local.commits) != 1 {
		t.Fatalf("expected presumed commit after a silent poll, got commits=%v aborts=%v", local.commits, local.aborts)
	}
}

func TestServeStatusRequestsAnswersFromTracker(t *testing.T) {
	bus := dmq.NewMemBus()
	responderQueue := dmq.NewMemQueue(bus, 2)
	requesterQueue := dmq.NewMemQueue(bus, 1)

	status := NewStatusTracker()
	status.Record("MTM-1-1", hooks.StateCommitted)
	r := New(2, onlineMachine(t, 2, 2, 1), responderQueue, nil, status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.ServeStatusRequests(ctx, nodemask.Of(1))

	request, err := protocol.Encode(protocol.ArbiterMessage{Code: protocol.CodePollStatus, Node: 1, GID: "MTM-1-1"})
	if err != nil {
		t.Fatalf("encode poll: %v", err)
	}
	if err := requesterQueue.Push(2, request); err != nil {
		t.Fatalf("push poll: %v", err)
	}

	pollCtx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	result, ok := requesterQueue.Pop(pollCtx, nodemask.Of(2))
	if !ok || result.Detached {
		t.Fatalf("expected a STATUS reply, got ok=%v", ok)
	}

	reply, err := protocol.Decode(result.Payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Code != protocol.CodeStatus || Outcome(reply.OXID) != OutcomeCommit {
		t.Fatalf("expected STATUS/COMMIT reply, got code=%v outcome=%v", reply.Code, Outcome(reply.OXID))
	}
}
