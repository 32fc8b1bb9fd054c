package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// FullExit is a priority op: opcode, chain_id, account(4), sub, owner(20),
// l2_source(2), l1_target(2), exit_amount(16), serial_id(8). It is
// "non-failing" at the state-transition layer (spec §4.4): decoding never
// fails on a nonexistent account, only the handler's semantics do.
type FullExit struct {
	ChainID    types.ChainId
	AccountID  types.AccountId
	Sub        types.SubAccountId
	Owner      types.Address
	L2Source   types.TokenId
	L1Target   types.TokenId
	ExitAmount [16]byte
	SerialID   uint64
}

func (FullExit) OpCode() OpCode { return OpFullExit }
func (FullExit) Chunks() int    { return 3 }

func (f FullExit) Encode() []byte {
	buf := make([]byte, 3*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpFullExit)
	off++
	buf[off] = byte(f.ChainID)
	off++
	putBE(buf, off, 4, uint64(f.AccountID))
	off += 4
	buf[off] = byte(f.Sub)
	off++
	ownerBytes := f.Owner.Bytes()
	copy(buf[off:off+20], ownerBytes[:min(20, len(ownerBytes))])
	off += 20
	putBE(buf, off, 2, uint64(f.L2Source))
	off += 2
	putBE(buf, off, 2, uint64(f.L1Target))
	off += 2
	copy(buf[off:off+16], f.ExitAmount[:])
	off += 16
	putBE(buf, off, 8, f.SerialID)
	return buf
}

func (f FullExit) PubDataCommitment() []byte { return f.Encode() }

func decodeFullExit(buf []byte) (RollupOp, error) {
	off := 1
	chainID := types.ChainId(buf[off])
	off++
	accountID := types.AccountId(be(buf, off, 4))
	off += 4
	sub := types.SubAccountId(buf[off])
	off++
	owner, err := types.NewAddress(buf[off : off+20])
	if err != nil {
		return nil, err
	}
	off += 20
	l2Source := types.TokenId(be(buf, off, 2))
	off += 2
	l1Target := types.TokenId(be(buf, off, 2))
	off += 2
	var amt [16]byte
	copy(amt[:], buf[off:off+16])
	off += 16
	serial := be(buf, off, 8)

	return FullExit{
		ChainID: chainID, AccountID: accountID, Sub: sub, Owner: owner,
		L2Source: l2Source, L1Target: l1Target, ExitAmount: amt, SerialID: serial,
	}, nil
}
