package hooks

import (
	"context"
	"testing"

	"github.com/mtmcore/mtmcore/barrier"
	"github.com/mtmcore/mtmcore/hlc"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/txn"
)

func onlineMachine(selfID, maxNodes int) *membership.Machine {
	m := membership.New(selfID, maxNodes)
	m.ConfigLoaded()
	m.BeginRecovery()
	m.CaughtUp()
	m.GoOnline()
	return m
}

func TestOnTxStartRejectsWhenNotOnline(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	cc := &CoreContext{SelfID: 1, Machine: membership.New(1, 3), Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)

	err := h.OnTxStart(context.Background(), cc, tx, "app")
	if err == nil {
		t.Fatal("expected ClusterNotOnline")
	}
	if _, ok := err.(*ClusterNotOnline); !ok {
		t.Fatalf("expected ClusterNotOnline, got %T", err)
	}
}

func TestOnTxStartMarksDistributedWhenOnline(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	cc := &CoreContext{SelfID: 1, Machine: onlineMachine(1, 3), Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)

	if err := h.OnTxStart(context.Background(), cc, tx, "app"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.IsDistributed {
		t.Fatal("expected transaction to be marked distributed")
	}
}

func TestOnTxStartStampsClockWhenWired(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	h.SetClock(hlc.NewClock(1))
	cc := &CoreContext{SelfID: 1, Machine: onlineMachine(1, 3), Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)

	if err := h.OnTxStart(context.Background(), cc, tx, "app"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.StartedAt.Value == 0 {
		t.Fatal("expected StartedAt to be stamped")
	}
}

func TestOnTxStartLeavesClockZeroWhenUnwired(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	cc := &CoreContext{SelfID: 1, Machine: onlineMachine(1, 3), Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)

	if err := h.OnTxStart(context.Background(), cc, tx, "app"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.StartedAt.Value != 0 {
		t.Fatal("expected StartedAt to remain zero when no clock is wired")
	}
}

func TestOnPrePrepareRejectsWrongDatabase(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	cc := &CoreContext{SelfID: 1, Machine: onlineMachine(1, 3), Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)
	tx.IsDistributed = true

	err := h.OnPrePrepare(context.Background(), cc, tx, "other")
	if _, ok := err.(*WrongDatabase); !ok {
		t.Fatalf("expected WrongDatabase, got %v", err)
	}
}

func TestOnPrePrepareCapturesParticipants(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	m := onlineMachine(1, 3)
	m.PeerTimedOut(3)
	cc := &CoreContext{SelfID: 1, Machine: m, Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)
	tx.IsDistributed = true

	if err := h.OnPrePrepare(context.Background(), cc, tx, "app"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Participants.Has(1) {
		t.Fatal("self must never be in participants")
	}
	if tx.Participants.Has(3) {
		t.Fatal("disabled peer must not be in participants")
	}
	if !tx.Participants.Has(2) {
		t.Fatal("live peer 2 should be in participants")
	}
}

func TestOnExecutorFinishSetsContainsDML(t *testing.T) {
	h := NewCoreHooks("app", nil, false)
	cc := &CoreContext{SelfID: 1, Machine: onlineMachine(1, 3), Barrier: barrier.New()}
	tx := txn.NewMtmTx(1, 1)

	_ = h.OnExecutorFinish(context.Background(), cc, tx, true)
	if !tx.ContainsDML {
		t.Fatal("expected ContainsDML to be set")
	}
}

func TestGUCOverridesPreserveInsertionOrder(t *testing.T) {
	g := NewGUCOverrides()
	g.Set("search_path", "public")
	g.Set("statement_timeout", "5000")
	g.Set("search_path", "other") // update in place

	pairs := g.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].Name != "search_path" || pairs[0].Value != "other" {
		t.Fatalf("expected updated search_path to keep its position, got %+v", pairs[0])
	}
	if pairs[1].Name != "statement_timeout" {
		t.Fatalf("expected statement_timeout second, got %+v", pairs[1])
	}
}

func TestRemoteFunctionMatcher(t *testing.T) {
	m, err := NewRemoteFunctionMatcher([]string{"lo_create", "lo_*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Matches("lo_create") {
		t.Fatal("expected exact match")
	}
	if !m.Matches("lo_unlink") {
		t.Fatal("expected glob match")
	}
	if m.Matches("some_other_fn") {
		t.Fatal("expected no match")
	}
}
