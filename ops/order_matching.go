package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// OrderSide identifies one leg (maker or taker) of an OrderMatching op.
type OrderSide struct {
	AccountID types.AccountId
	Sub       types.SubAccountId
	SlotID    types.SlotId
	Nonce     types.Nonce
}

func encodeSide(buf []byte, off int, s OrderSide) int {
	putBE(buf, off, 4, uint64(s.AccountID))
	off += 4
	buf[off] = byte(s.Sub)
	off++
	putBE(buf, off, 2, uint64(s.SlotID))
	off += 2
	putBE(buf, off, 4, uint64(s.Nonce))
	off += 4
	return off
}

func decodeSide(buf []byte, off int) (OrderSide, int) {
	s := OrderSide{
		AccountID: types.AccountId(be(buf, off, 4)),
	}
	off += 4
	s.Sub = types.SubAccountId(buf[off])
	off++
	s.SlotID = types.SlotId(be(buf, off, 2))
	off += 2
	s.Nonce = types.Nonce(be(buf, off, 4))
	off += 4
	return s, off
}

// OrderMatching: opcode, submitter(4), sub, tx_token(2), maker order
// fields, taker order fields, declared order totals(16x2), exchanged
// amounts(16x2), packed_fee(2), tx_nonce(4).
//
// MakerTotal/TakerTotal carry each leg's own declared order amount (the
// value a fresh or stale slot's residue resets to); MakerExchanged/
// TakerExchanged carry only this match's actual fill, which is subtracted
// from that residue. The two are distinct so a partial fill (total >
// exchanged) leaves a nonzero residue — see tidyOrderUpdate.
type OrderMatching struct {
	Submitter      types.AccountId
	Sub            types.SubAccountId
	TxToken        types.TokenId
	Maker          OrderSide
	Taker          OrderSide
	MakerTotal     [16]byte
	TakerTotal     [16]byte
	MakerExchanged [16]byte
	TakerExchanged [16]byte
	PackedFee      [2]byte
	TxNonce        types.Nonce
}

func (OrderMatching) OpCode() OpCode { return OpOrderMatching }
func (OrderMatching) Chunks() int    { return 5 }

func (o OrderMatching) Encode() []byte {
	buf := make([]byte, 5*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpOrderMatching)
	off++
	putBE(buf, off, 4, uint64(o.Submitter))
	off += 4
	buf[off] = byte(o.Sub)
	off++
	putBE(buf, off, 2, uint64(o.TxToken))
	off += 2
	off = encodeSide(buf, off, o.Maker)
	off = encodeSide(buf, off, o.Taker)
	copy(buf[off:off+16], o.MakerTotal[:])
	off += 16
	copy(buf[off:off+16], o.TakerTotal[:])
	off += 16
	copy(buf[off:off+16], o.MakerExchanged[:])
	off += 16
	copy(buf[off:off+16], o.TakerExchanged[:])
	off += 16
	copy(buf[off:off+2], o.PackedFee[:])
	off += 2
	putBE(buf, off, 4, uint64(o.TxNonce))
	return buf
}

func (o OrderMatching) PubDataCommitment() []byte { return o.Encode() }

func decodeOrderMatching(buf []byte) (RollupOp, error) {
	off := 1
	submitter := types.AccountId(be(buf, off, 4))
	off += 4
	sub := types.SubAccountId(buf[off])
	off++
	txToken := types.TokenId(be(buf, off, 2))
	off += 2
	maker, off2 := decodeSide(buf, off)
	off = off2
	taker, off3 := decodeSide(buf, off)
	off = off3
	var makerTotal, takerTotal, makerAmt, takerAmt [16]byte
	copy(makerTotal[:], buf[off:off+16])
	off += 16
	copy(takerTotal[:], buf[off:off+16])
	off += 16
	copy(makerAmt[:], buf[off:off+16])
	off += 16
	copy(takerAmt[:], buf[off:off+16])
	off += 16
	var fee [2]byte
	copy(fee[:], buf[off:off+2])
	off += 2
	txNonce := types.Nonce(be(buf, off, 4))

	if _, err := types.PackedFeeParams.UnpackBytes(fee[:]); err != nil {
		return nil, err
	}

	return OrderMatching{
		Submitter: submitter, Sub: sub, TxToken: txToken,
		Maker: maker, Taker: taker,
		MakerTotal: makerTotal, TakerTotal: takerTotal,
		MakerExchanged: makerAmt, TakerExchanged: takerAmt,
		PackedFee: fee, TxNonce: txNonce,
	}, nil
}
