// Package ops implements the bit-exact rollup operation codec (spec §4.3):
// one Go type per op variant, opcode/chunk-count constants, and the
// Encode/Decode pair each op must round-trip through. All multi-byte
// integer fields are big-endian; CHUNK_BYTES is the fixed pubdata chunk
// width every op's CHUNKS count multiplies.
package ops

import (
	"errors"

	"github.com/zklinkprotocol/recover-state-server/types"
)

// CHUNK_BYTES is the fixed width of one pubdata chunk.
const CHUNK_BYTES = 23

// OpCode is the one-byte tag at the start of every op's pubdata.
type OpCode uint8

const (
	OpNoop OpCode = iota
	OpDeposit
	OpTransferToNew
	OpTransfer
	OpWithdraw
	OpFullExit
	OpChangePubKey
	OpForcedExit
	OpOrderMatching
)

// Chunks returns the fixed CHUNKS count for each op code (spec §4.3 table).
func (c OpCode) Chunks() (int, bool) {
	switch c {
	case OpNoop:
		return 1, true
	case OpDeposit:
		return 3, true
	case OpTransferToNew:
		return 3, true
	case OpTransfer:
		return 2, true
	case OpWithdraw:
		return 3, true
	case OpFullExit:
		return 3, true
	case OpChangePubKey:
		return 3, true
	case OpForcedExit:
		return 3, true
	case OpOrderMatching:
		return 5, true
	default:
		return 0, false
	}
}

// Errors common to every op's decoder.
var (
	ErrUnknownOpCode     = errors.New("ops: unknown opcode")
	ErrShortPubdata      = errors.New("ops: pubdata shorter than CHUNKS*CHUNK_BYTES")
	ErrInvalidTokenPair  = errors.New("ops: invalid l2_source/l1_target token pair")
	ErrPackedRoundTrip   = types.ErrPackedRoundTrip
)

// RollupOp is implemented by every op variant. Chunks reports how many
// CHUNK_BYTES-wide slices the op consumes in a block's pubdata, matching
// spec §4.2's "reading op_code ... looking up that opcode's CHUNKS
// constant".
type RollupOp interface {
	OpCode() OpCode
	Chunks() int
	Encode() []byte
	// PubDataCommitment returns the bytes this op contributes to the
	// circuit's public-input commitment (used by the exit prover to
	// rebuild pub_data_commitment without re-running full replay).
	PubDataCommitment() []byte
}

// Decode reads one op from the front of data (which must be at least
// CHUNKS*CHUNK_BYTES long for the op named by data[0]) and returns the
// decoded op plus the number of bytes consumed.
func Decode(data []byte) (RollupOp, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrShortPubdata
	}
	code := OpCode(data[0])
	chunks, ok := code.Chunks()
	if !ok {
		return nil, 0, ErrUnknownOpCode
	}
	width := chunks * CHUNK_BYTES
	if len(data) < width {
		return nil, 0, ErrShortPubdata
	}
	buf := data[:width]

	var (
		op  RollupOp
		err error
	)
	switch code {
	case OpNoop:
		op, err = decodeNoop(buf)
	case OpDeposit:
		op, err = decodeDeposit(buf)
	case OpTransferToNew:
		op, err = decodeTransferToNew(buf)
	case OpTransfer:
		op, err = decodeTransfer(buf)
	case OpWithdraw:
		op, err = decodeWithdraw(buf)
	case OpFullExit:
		op, err = decodeFullExit(buf)
	case OpChangePubKey:
		op, err = decodeChangePubKey(buf)
	case OpForcedExit:
		op, err = decodeForcedExit(buf)
	case OpOrderMatching:
		op, err = decodeOrderMatching(buf)
	default:
		return nil, 0, ErrUnknownOpCode
	}
	if err != nil {
		return nil, 0, err
	}
	return op, width, nil
}

// be reads n big-endian bytes starting at off as a uint64.
func be(buf []byte, off, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(buf[off+i])
	}
	return v
}

// putBE writes v as n big-endian bytes starting at off.
func putBE(buf []byte, off, n int, v uint64) {
	for i := 0; i < n; i++ {
		buf[off+n-1-i] = byte(v)
		v >>= 8
	}
}
