// Package protocol implements the fixed-layout ArbiterMessage wire codec
// that flows over the DMQ between coordinator, membership, and deadlock
// detector peers.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mtmcore/mtmcore/gid"
)

// Code identifies the purpose of an ArbiterMessage.
type Code uint8

const (
	CodePrepare Code = iota + 1
	CodePrepared
	CodeAborted
	CodePrecommit
	CodePrecommitted
	CodeCommitted
	CodeAbort
	CodeHeartbeat
	CodePollStatus
	CodeStatus
)

func (c Code) String() string {
	switch c {
	case CodePrepare:
		return "PREPARE"
	case CodePrepared:
		return "PREPARED"
	case CodeAborted:
		return "ABORTED"
	case CodePrecommit:
		return "PRECOMMIT"
	case CodePrecommitted:
		return "PRECOMMITTED"
	case CodeCommitted:
		return "COMMITTED"
	case CodeAbort:
		return "ABORT"
	case CodeHeartbeat:
		return "HEARTBEAT"
	case CodePollStatus:
		return "POLL_STATUS"
	case CodeStatus:
		return "STATUS"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

func validCode(c Code) bool {
	return c >= CodePrepare && c <= CodeStatus
}

// GIDMax is the fixed byte length of the gid field on the wire.
const GIDMax = gid.Max

// wireSize is the exact encoded byte length of an ArbiterMessage:
// code(1) + node(1) + connectivity_mask(8) + dxid(8) + oxid(8) + sxid(8) + lsn(8) + gid(GIDMax)
const wireSize = 1 + 1 + 8 + 8 + 8 + 8 + 8 + GIDMax

// ArbiterMessage is the fixed-layout record exchanged between nodes.
type ArbiterMessage struct {
	Code             Code
	Node             uint8
	ConnectivityMask uint64
	DXID             uint64 // distributed transaction id this message concerns
	OXID             uint64 // coordinator-local transaction id
	SXID             uint64 // sender-local transaction id
	LSN              uint64
	GID              gid.GID
}

// ErrDecode is returned by Decode for malformed or unrecognized input.
type ErrDecode struct {
	Reason string
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("protocol: decode error: %s", e.Reason)
}

// Encode writes m in the fixed little-endian layout.
func Encode(m ArbiterMessage) ([]byte, error) {
	if !validCode(m.Code) {
		return nil, &ErrDecode{Reason: fmt.Sprintf("unknown code %d", m.Code)}
	}
	if len(m.GID) > GIDMax {
		return nil, &ErrDecode{Reason: fmt.Sprintf("gid %q exceeds %d bytes", m.GID, GIDMax)}
	}

	buf := make([]byte, wireSize)
	buf[0] = byte(m.Code)
	buf[1] = m.Node
	binary.LittleEndian.PutUint64(buf[2:10], m.ConnectivityMask)
	binary.LittleEndian.PutUint64(buf[10:18], m.DXID)
	binary.LittleEndian.PutUint64(buf[18:26], m.OXID)
	binary.LittleEndian.PutUint64(buf[26:34], m.SXID)
	binary.LittleEndian.PutUint64(buf[34:42], m.LSN)
	copy(buf[42:42+GIDMax], []byte(m.GID)) // zero-padded: buf is already zeroed

	return buf, nil
}

// Decode parses the fixed little-endian layout. Unknown codes are rejected.
func Decode(data []byte) (ArbiterMessage, error) {
	if len(data) != wireSize {
		return ArbiterMessage{}, &ErrDecode{Reason: fmt.Sprintf("expected %d bytes, got %d", wireSize, len(data))}
	}

	code := Code(data[0])
	if !validCode(code) {
		return ArbiterMessage{}, &ErrDecode{Reason: fmt.Sprintf("unknown code %d", code)}
	}

	gidBytes := data[42 : 42+GIDMax]
	if n := bytes.IndexByte(gidBytes, 0); n >= 0 {
		gidBytes = gidBytes[:n]
	}

	return ArbiterMessage{
		Code:             code,
		Node:             data[1],
		ConnectivityMask: binary.LittleEndian.Uint64(data[2:10]),
		DXID:             binary.LittleEndian.Uint64(data[10:18]),
		OXID:             binary.LittleEndian.Uint64(data[18:26]),
		SXID:             binary.LittleEndian.Uint64(data[26:34]),
		LSN:              binary.LittleEndian.Uint64(data[34:42]),
		GID:              gid.GID(gidBytes),
	}, nil
}
