// Package barrier implements the commit/receiver interlock described in
// the membership and commit-coordinator design: coordinators hold it
// shared while gathering 3PC replies, and a receiver starting recovery
// takes it exclusively for a brief window while it installs a new
// participant bit, guaranteeing no commit can return success without
// having observed that participant.
package barrier

import "sync"

// CommitBarrier is a plain reader-writer lock, kept distinct from the
// membership state lock and never nested inside it.
type CommitBarrier struct {
	mu sync.RWMutex
}

// New creates an unlocked CommitBarrier.
func New() *CommitBarrier {
	return &CommitBarrier{}
}

// HoldShared acquires the barrier for a coordinator's gather phase and
// returns a function that releases it.
func (b *CommitBarrier) HoldShared() (release func()) {
	b.mu.RLock()
	return b.mu.RUnlock
}

// HoldExclusive acquires the barrier for a receiver installing a new
// participant and returns a function that releases it. Callers must hold
// this for the shortest possible window.
func (b *CommitBarrier) HoldExclusive() (release func()) {
	b.mu.Lock()
	return b.mu.Unlock
}
