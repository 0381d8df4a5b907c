// Package syncpoint persists, per peer, the last replicated LSN this
// node has applied and the logical replication slot names that peer's
// stream uses.
package syncpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// SlotName is the logical replication slot name a peer's normal
// streaming subscription uses.
func SlotName(peerID int) string {
	return fmt.Sprintf("mtm_slot_%d", peerID)
}

// RecoverySlotName is the slot name used while a peer is being caught
// up from its last syncpoint after a partition or restart, kept
// distinct from its steady-state slot so recovery can be abandoned
// without disturbing normal streaming.
func RecoverySlotName(peerID int) string {
	return fmt.Sprintf("mtm_recovery_%d", peerID)
}

func syncpointKey(peerID int) []byte {
	return []byte(fmt.Sprintf("/syncpoint/%d", peerID))
}

// Store persists latest_syncpoint[peer] across restarts.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble-backed syncpoint store at
// dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("syncpoint: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the last recorded LSN for peerID, or 0 if none has been
// recorded yet (a peer never streamed from, or a fresh store).
func (s *Store) Get(peerID int) (uint64, error) {
	value, closer, err := s.db.Get(syncpointKey(peerID))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("syncpoint: get peer %d: %w", peerID, err)
	}
	defer closer.Close()

	if len(value) != 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(value), nil
}

// Advance records lsn as peerID's latest_syncpoint. Callers are
// expected to only ever advance an LSN forward per peer; Advance itself
// does not enforce monotonicity, since the caller (the applier) already
// processes a peer's stream in order.
func (s *Store) Advance(peerID int, lsn uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, lsn)
	if err := s.db.Set(syncpointKey(peerID), buf, pebble.Sync); err != nil {
		return fmt.Errorf("syncpoint: advance peer %d: %w", peerID, err)
	}
	return nil
}

// Forget drops the recorded syncpoint for peerID, for when a peer is
// dropped from the cluster via mtm_after_node_drop.
func (s *Store) Forget(peerID int) error {
	if err := s.db.Delete(syncpointKey(peerID), pebble.Sync); err != nil {
		return fmt.Errorf("syncpoint: forget peer %d: %w", peerID, err)
	}
	return nil
}
