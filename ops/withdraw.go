package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// Withdraw burns L2 balance and releases L1 custody: opcode, chain_id,
// from(4), sub, l2_source(2), l1_target(2), to(20), full_amount(16),
// packed_fee(2), nonce(4), fast_withdraw(1), withdraw_fee_ratio(2).
//
// fast_withdraw and withdraw_fee_ratio are decoded and stored verbatim for
// fidelity but do not influence the state transition during recovery
// replay (spec §9 open question).
type Withdraw struct {
	ChainID           types.ChainId
	From              types.AccountId
	Sub               types.SubAccountId
	L2Source          types.TokenId
	L1Target          types.TokenId
	To                types.Address
	FullAmount        [16]byte
	PackedFee         [2]byte
	Nonce             types.Nonce
	FastWithdraw      uint8
	WithdrawFeeRatio  uint16
}

func (Withdraw) OpCode() OpCode { return OpWithdraw }
func (Withdraw) Chunks() int    { return 3 }

func (w Withdraw) Encode() []byte {
	buf := make([]byte, 3*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpWithdraw)
	off++
	buf[off] = byte(w.ChainID)
	off++
	putBE(buf, off, 4, uint64(w.From))
	off += 4
	buf[off] = byte(w.Sub)
	off++
	putBE(buf, off, 2, uint64(w.L2Source))
	off += 2
	putBE(buf, off, 2, uint64(w.L1Target))
	off += 2
	toBytes := w.To.Bytes()
	copy(buf[off:off+20], toBytes[:min(20, len(toBytes))])
	off += 20
	copy(buf[off:off+16], w.FullAmount[:])
	off += 16
	copy(buf[off:off+2], w.PackedFee[:])
	off += 2
	putBE(buf, off, 4, uint64(w.Nonce))
	off += 4
	buf[off] = w.FastWithdraw
	off++
	putBE(buf, off, 2, uint64(w.WithdrawFeeRatio))
	return buf
}

func (w Withdraw) PubDataCommitment() []byte { return w.Encode() }

func decodeWithdraw(buf []byte) (RollupOp, error) {
	off := 1
	chainID := types.ChainId(buf[off])
	off++
	from := types.AccountId(be(buf, off, 4))
	off += 4
	sub := types.SubAccountId(buf[off])
	off++
	l2Source := types.TokenId(be(buf, off, 2))
	off += 2
	l1Target := types.TokenId(be(buf, off, 2))
	off += 2
	to, err := types.NewAddress(buf[off : off+20])
	if err != nil {
		return nil, err
	}
	off += 20
	var amt [16]byte
	copy(amt[:], buf[off:off+16])
	off += 16
	var fee [2]byte
	copy(fee[:], buf[off:off+2])
	off += 2
	nonce := types.Nonce(be(buf, off, 4))
	off += 4
	fastWithdraw := buf[off]
	off++
	feeRatio := uint16(be(buf, off, 2))

	if _, err := types.PackedFeeParams.UnpackBytes(fee[:]); err != nil {
		return nil, err
	}

	return Withdraw{
		ChainID: chainID, From: from, Sub: sub, L2Source: l2Source, L1Target: l1Target,
		To: to, FullAmount: amt, PackedFee: fee, Nonce: nonce,
		FastWithdraw: fastWithdraw, WithdrawFeeRatio: feeRatio,
	}, nil
}
