package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// TransferToNew allocates a new account as the transfer target: opcode,
// from_id(4), from_sub, token(2), packed_amount(5), to_addr(20), to_id(4),
// to_sub, packed_fee(2).
type TransferToNew struct {
	FromID       types.AccountId
	FromSub      types.SubAccountId
	Token        types.TokenId
	PackedAmount [5]byte
	ToAddr       types.Address
	ToID         types.AccountId
	ToSub        types.SubAccountId
	PackedFee    [2]byte
}

func (TransferToNew) OpCode() OpCode { return OpTransferToNew }
func (TransferToNew) Chunks() int    { return 3 }

func (t TransferToNew) Encode() []byte {
	buf := make([]byte, 3*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpTransferToNew)
	off++
	putBE(buf, off, 4, uint64(t.FromID))
	off += 4
	buf[off] = byte(t.FromSub)
	off++
	putBE(buf, off, 2, uint64(t.Token))
	off += 2
	copy(buf[off:off+5], t.PackedAmount[:])
	off += 5
	toAddrBytes := t.ToAddr.Bytes()
	copy(buf[off:off+20], toAddrBytes[:min(20, len(toAddrBytes))])
	off += 20
	putBE(buf, off, 4, uint64(t.ToID))
	off += 4
	buf[off] = byte(t.ToSub)
	off++
	copy(buf[off:off+2], t.PackedFee[:])
	return buf
}

func (t TransferToNew) PubDataCommitment() []byte { return t.Encode() }

func decodeTransferToNew(buf []byte) (RollupOp, error) {
	off := 1
	fromID := types.AccountId(be(buf, off, 4))
	off += 4
	fromSub := types.SubAccountId(buf[off])
	off++
	token := types.TokenId(be(buf, off, 2))
	off += 2
	var amt [5]byte
	copy(amt[:], buf[off:off+5])
	off += 5
	toAddr, err := types.NewAddress(buf[off : off+20])
	if err != nil {
		return nil, err
	}
	off += 20
	toID := types.AccountId(be(buf, off, 4))
	off += 4
	toSub := types.SubAccountId(buf[off])
	off++
	var fee [2]byte
	copy(fee[:], buf[off:off+2])

	if _, err := types.PackedAmountParams.UnpackBytes(amt[:]); err != nil {
		return nil, err
	}
	if _, err := types.PackedFeeParams.UnpackBytes(fee[:]); err != nil {
		return nil, err
	}

	return TransferToNew{
		FromID: fromID, FromSub: fromSub, Token: token, PackedAmount: amt,
		ToAddr: toAddr, ToID: toID, ToSub: toSub, PackedFee: fee,
	}, nil
}
