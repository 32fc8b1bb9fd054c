package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// Transfer moves funds between two existing accounts: opcode, from(4),
// from_sub, token(2), to(4), to_sub, packed_amount(5), packed_fee(2).
type Transfer struct {
	From         types.AccountId
	FromSub      types.SubAccountId
	Token        types.TokenId
	To           types.AccountId
	ToSub        types.SubAccountId
	PackedAmount [5]byte
	PackedFee    [2]byte
}

func (Transfer) OpCode() OpCode { return OpTransfer }
func (Transfer) Chunks() int    { return 2 }

func (t Transfer) Encode() []byte {
	buf := make([]byte, 2*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpTransfer)
	off++
	putBE(buf, off, 4, uint64(t.From))
	off += 4
	buf[off] = byte(t.FromSub)
	off++
	putBE(buf, off, 2, uint64(t.Token))
	off += 2
	putBE(buf, off, 4, uint64(t.To))
	off += 4
	buf[off] = byte(t.ToSub)
	off++
	copy(buf[off:off+5], t.PackedAmount[:])
	off += 5
	copy(buf[off:off+2], t.PackedFee[:])
	return buf
}

func (t Transfer) PubDataCommitment() []byte { return t.Encode() }

func decodeTransfer(buf []byte) (RollupOp, error) {
	off := 1
	from := types.AccountId(be(buf, off, 4))
	off += 4
	fromSub := types.SubAccountId(buf[off])
	off++
	token := types.TokenId(be(buf, off, 2))
	off += 2
	to := types.AccountId(be(buf, off, 4))
	off += 4
	toSub := types.SubAccountId(buf[off])
	off++
	var amt [5]byte
	copy(amt[:], buf[off:off+5])
	off += 5
	var fee [2]byte
	copy(fee[:], buf[off:off+2])

	if _, err := types.PackedAmountParams.UnpackBytes(amt[:]); err != nil {
		return nil, err
	}
	if _, err := types.PackedFeeParams.UnpackBytes(fee[:]); err != nil {
		return nil, err
	}

	return Transfer{
		From: from, FromSub: fromSub, Token: token,
		To: to, ToSub: toSub, PackedAmount: amt, PackedFee: fee,
	}, nil
}
