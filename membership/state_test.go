package membership

import (
	"testing"

	"github.com/mtmcore/mtmcore/nodemask"
)

func TestLifecycleHappyPath(t *testing.T) {
	m := New(1, 3)

	if m.State() != Initialization {
		t.Fatalf("expected Initialization, got %s", m.State())
	}
	if !m.ConfigLoaded() {
		t.Fatal("expected ConfigLoaded to succeed")
	}
	if m.State() != Disabled {
		t.Fatalf("expected Disabled, got %s", m.State())
	}
	if !m.BeginRecovery() {
		t.Fatal("expected BeginRecovery to succeed")
	}
	if !m.CaughtUp() {
		t.Fatal("expected CaughtUp to succeed")
	}
	if !m.GoOnline() {
		t.Fatal("expected GoOnline to succeed")
	}
	if m.State() != Online {
		t.Fatalf("expected Online, got %s", m.State())
	}
	if !m.GoDisabled("self failure") {
		t.Fatal("expected ONLINE -> DISABLED to succeed")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := New(1, 3)
	if m.GoOnline() {
		t.Fatal("expected INITIALIZATION -> ONLINE to be rejected")
	}
	if m.State() != Initialization {
		t.Fatalf("state should be unchanged, got %s", m.State())
	}
}

func TestPeerTimeoutSetsDisabledMask(t *testing.T) {
	m := New(1, 3)
	m.PeerTimedOut(2)

	if !m.DisabledMask().Has(2) {
		t.Fatal("expected peer 2 to be in disabled_mask")
	}
}

func TestPeerHeartbeatClearsDisabledMask(t *testing.T) {
	m := New(1, 3)
	m.PeerTimedOut(2)
	m.PeerHeartbeat(2, nodemask.Of(1, 3))

	if m.DisabledMask().Has(2) {
		t.Fatal("expected peer 2's disabled bit to be cleared by heartbeat")
	}
	if !m.ConnectivityMask().Has(2) {
		t.Fatal("expected connectivity mask to include peer 2")
	}
}

func TestOnPeerRejoinFiresOnlyOnDisabledToReachableTransition(t *testing.T) {
	m := New(1, 3)
	var rejoined []int
	m.OnPeerRejoin(func(peer int) { rejoined = append(rejoined, peer) })

	// Not previously disabled: no rejoin callback.
	m.PeerHeartbeat(2, nodemask.Of(1, 3))
	if len(rejoined) != 0 {
		t.Fatalf("expected no rejoin callback for a peer that was never disabled, got %v", rejoined)
	}

	m.PeerTimedOut(2)
	m.PeerHeartbeat(2, nodemask.Of(1, 3))
	if len(rejoined) != 1 || rejoined[0] != 2 {
		t.Fatalf("expected rejoin callback for peer 2, got %v", rejoined)
	}

	// Already reachable: no further callback.
	m.PeerHeartbeat(2, nodemask.Of(1, 3))
	if len(rejoined) != 1 {
		t.Fatalf("expected no additional callback once peer stays reachable, got %v", rejoined)
	}
}

func TestCliqueAllConnected(t *testing.T) {
	m := New(1, 3)
	m.PeerHeartbeat(2, nodemask.Of(1, 3))
	m.PeerHeartbeat(3, nodemask.Of(1, 2))

	clique := m.Clique()
	if clique != nodemask.Of(1, 2, 3) {
		t.Fatalf("expected full clique {1,2,3}, got %v", clique.Nodes())
	}
}

func TestCliqueExcludesUnreachablePeer(t *testing.T) {
	m := New(1, 3)
	// Peer 2 reports it can reach 1 and 3, but peer 3 never reports
	// reaching peer 2: the edge is not symmetric, so 2 and 3 cannot be
	// in a clique together.
	m.PeerHeartbeat(2, nodemask.Of(1, 3))
	m.PeerHeartbeat(3, nodemask.Of(1))

	clique := m.Clique()
	if !clique.Has(1) {
		t.Fatal("expected self in clique")
	}
	if clique.Has(2) && clique.Has(3) {
		t.Fatal("expected 2 and 3 not to both be in the clique")
	}
}

func TestCliqueTieBreaksLexicographicallySmallest(t *testing.T) {
	m := New(1, 4)
	// Two disjoint edges of equal clique size {1,2} vs {1,3}; 4 is
	// unreachable from everyone. Expect the smaller membership to win.
	m.PeerHeartbeat(2, nodemask.Of(1))
	m.PeerHeartbeat(3, nodemask.Of(1))

	clique := m.Clique()
	if clique.Popcount() != 2 {
		t.Fatalf("expected clique size 2, got %d", clique.Popcount())
	}
	if !clique.Has(2) {
		t.Fatalf("expected tie-break to prefer node 2, got %v", clique.Nodes())
	}
}

// TestCliqueTieBreakUsesLexicographicOrderNotMaskMagnitude exercises a
// tie where mask magnitude and lexicographic order disagree: {1,2,5} has
// mask 0b10011=19, {1,3,4} has mask 0b01101=13, so a magnitude-based
// tie-break would keep {1,3,4} even though {1,2,5} is lexicographically
// smaller (2 < 3 at the first differing element).
func TestCliqueTieBreakUsesLexicographicOrderNotMaskMagnitude(t *testing.T) {
	m := New(1, 5)
	m.PeerHeartbeat(2, nodemask.Of(1, 5))
	m.PeerHeartbeat(5, nodemask.Of(1, 2))
	m.PeerHeartbeat(3, nodemask.Of(1, 4))
	m.PeerHeartbeat(4, nodemask.Of(1, 3))

	clique := m.Clique()
	if clique.Popcount() != 3 {
		t.Fatalf("expected clique size 3, got %d: %v", clique.Popcount(), clique.Nodes())
	}
	if !clique.Has(2) || !clique.Has(5) || clique.Has(3) || clique.Has(4) {
		t.Fatalf("expected lexicographically smallest clique {1,2,5}, got %v", clique.Nodes())
	}
}
