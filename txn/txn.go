// Package txn defines the coordinator-side per-transaction state
// threaded through the host hooks into the commit coordinator.
package txn

import (
	"github.com/mtmcore/mtmcore/gid"
	"github.com/mtmcore/mtmcore/hlc"
	"github.com/mtmcore/mtmcore/nodemask"
)

// MtmTx is created at transaction start, mutated by the DML/DDL hooks,
// consumed at commit, and never outlives the local transaction.
type MtmTx struct {
	XID           uint64
	GID           gid.GID
	IsDistributed bool
	ContainsDML   bool
	IsTwoPhase    bool
	Participants  nodemask.Mask
	StartedAt     hlc.Timestamp
}

// NewMtmTx creates a transaction for a local xid on originNodeID,
// deriving its GID eagerly so it is stable for the transaction's
// lifetime regardless of whether it ends up distributed.
func NewMtmTx(originNodeID int, xid uint64) *MtmTx {
	return &MtmTx{
		XID: xid,
		GID: gid.New(originNodeID, xid),
	}
}
