package referee

import (
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, func()) {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	srv := NewServer(store)
	httpSrv := httptest.NewServer(srv.Routes())
	return srv, httpSrv, func() {
		httpSrv.Close()
		store.Close()
	}
}

func TestFirstRequesterWinsGrant(t *testing.T) {
	_, httpSrv, cleanup := newTestServer(t)
	defer cleanup()

	c1 := NewClient(httpSrv.URL, 1)
	won, err := c1.RequestGrant(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !won {
		t.Fatal("expected first requester to win the grant")
	}
}

func TestSecondRequesterLosesStandingGrant(t *testing.T) {
	_, httpSrv, cleanup := newTestServer(t)
	defer cleanup()

	c1 := NewClient(httpSrv.URL, 1)
	c2 := NewClient(httpSrv.URL, 2)

	if won, err := c1.RequestGrant(1); err != nil || !won {
		t.Fatalf("node 1 should win: won=%v err=%v", won, err)
	}
	won, err := c2.RequestGrant(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if won {
		t.Fatal("expected node 2 to lose the standing grant")
	}
}

func TestDecisionPersistsUntilBothNodesCheckIn(t *testing.T) {
	_, httpSrv, cleanup := newTestServer(t)
	defer cleanup()

	c1 := NewClient(httpSrv.URL, 1)
	c2 := NewClient(httpSrv.URL, 2)

	if _, err := c1.RequestGrant(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	holder, err := c1.CurrentGrant(1)
	if err != nil || holder != 1 {
		t.Fatalf("expected node 1 to hold the grant, got %d err=%v", holder, err)
	}

	// Node 1 alone checking in again (e.g. a restart) must not clear
	// the decision.
	if err := c1.Surrender(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	holder, err = c1.CurrentGrant(1)
	if err != nil || holder != 1 {
		t.Fatalf("decision should survive a single node checking in, got %d err=%v", holder, err)
	}

	// Once node 2 also checks in, both nodes are accounted for and the
	// decision clears.
	if err := c2.Surrender(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	holder, err = c1.CurrentGrant(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if holder != 0 {
		t.Fatalf("expected decision to be cleared, still held by %d", holder)
	}
}
