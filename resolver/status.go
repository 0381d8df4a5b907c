// Package resolver finishes orphaned PREPAREd transactions: a GID left
// PREPARED or PRECOMMITTED on this node after a restart or network
// partition heals is polled against every other live node and decided
// by presumed-commit-after-precommit rules.
package resolver

import (
	"sync"

	"github.com/mtmcore/mtmcore/gid"
	"github.com/mtmcore/mtmcore/hooks"
)

// Outcome is a peer's answer to a status poll.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeCommit
	OutcomeAbort
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommit:
		return "COMMIT"
	case OutcomeAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// StatusTracker records this node's own progress through local 2PC per
// GID. It serves two roles: the resolver consults it to find orphaned
// GIDs and to learn how far the local transaction got, and it answers
// other nodes' polls about GIDs this node already knows the outcome of.
type StatusTracker struct {
	mu     sync.RWMutex
	states map[gid.GID]hooks.PreparedState
}

// NewStatusTracker builds an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{states: make(map[gid.GID]hooks.PreparedState)}
}

// Record sets g's current local state, overwriting any prior value.
func (t *StatusTracker) Record(g gid.GID, state hooks.PreparedState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[g] = state
}

// Forget drops g, once it has been fully finished and no longer needs
// tracking.
func (t *StatusTracker) Forget(g gid.GID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, g)
}

// State returns g's recorded local state, if any.
func (t *StatusTracker) State(g gid.GID) (hooks.PreparedState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[g]
	return s, ok
}

// Outcome answers a peer's POLL_STATUS(g): this node only ever reports a
// terminal outcome, never its own still-in-flight PREPARED/PRECOMMITTED
// state (which isn't an outcome, just progress).
func (t *StatusTracker) Outcome(g gid.GID) Outcome {
	s, ok := t.State(g)
	if !ok {
		return OutcomeUnknown
	}
	switch s {
	case hooks.StateCommitted:
		return OutcomeCommit
	case hooks.StateAborted:
		return OutcomeAbort
	default:
		return OutcomeUnknown
	}
}

// Orphans lists every GID still sitting in PREPARED or PRECOMMITTED,
// candidates for resolution.
func (t *StatusTracker) Orphans() []gid.GID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]gid.GID, 0, len(t.states))
	for g, s := range t.states {
		if s == hooks.StatePrepared || s == hooks.StatePrecommitted {
			out = append(out, g)
		}
	}
	return out
}
