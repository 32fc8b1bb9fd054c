package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// ForcedExit: opcode, chain_id, initiator(4), initiator_sub, target(4),
// target_sub, l2_source(2), l1_target(2), fee_token(2), packed_fee(2),
// nonce(4), target_addr(20), amount(16).
type ForcedExit struct {
	ChainID      types.ChainId
	Initiator    types.AccountId
	InitiatorSub types.SubAccountId
	Target       types.AccountId
	TargetSub    types.SubAccountId
	L2Source     types.TokenId
	L1Target     types.TokenId
	FeeToken     types.TokenId
	PackedFee    [2]byte
	Nonce        types.Nonce
	TargetAddr   types.Address
	Amount       [16]byte
}

func (ForcedExit) OpCode() OpCode { return OpForcedExit }
func (ForcedExit) Chunks() int    { return 3 }

func (f ForcedExit) Encode() []byte {
	buf := make([]byte, 3*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpForcedExit)
	off++
	buf[off] = byte(f.ChainID)
	off++
	putBE(buf, off, 4, uint64(f.Initiator))
	off += 4
	buf[off] = byte(f.InitiatorSub)
	off++
	putBE(buf, off, 4, uint64(f.Target))
	off += 4
	buf[off] = byte(f.TargetSub)
	off++
	putBE(buf, off, 2, uint64(f.L2Source))
	off += 2
	putBE(buf, off, 2, uint64(f.L1Target))
	off += 2
	putBE(buf, off, 2, uint64(f.FeeToken))
	off += 2
	copy(buf[off:off+2], f.PackedFee[:])
	off += 2
	putBE(buf, off, 4, uint64(f.Nonce))
	off += 4
	targetAddrBytes := f.TargetAddr.Bytes()
	copy(buf[off:off+20], targetAddrBytes[:min(20, len(targetAddrBytes))])
	off += 20
	copy(buf[off:off+16], f.Amount[:])
	return buf
}

func (f ForcedExit) PubDataCommitment() []byte { return f.Encode() }

func decodeForcedExit(buf []byte) (RollupOp, error) {
	off := 1
	chainID := types.ChainId(buf[off])
	off++
	initiator := types.AccountId(be(buf, off, 4))
	off += 4
	initiatorSub := types.SubAccountId(buf[off])
	off++
	target := types.AccountId(be(buf, off, 4))
	off += 4
	targetSub := types.SubAccountId(buf[off])
	off++
	l2Source := types.TokenId(be(buf, off, 2))
	off += 2
	l1Target := types.TokenId(be(buf, off, 2))
	off += 2
	feeToken := types.TokenId(be(buf, off, 2))
	off += 2
	var fee [2]byte
	copy(fee[:], buf[off:off+2])
	off += 2
	nonce := types.Nonce(be(buf, off, 4))
	off += 4
	targetAddr, err := types.NewAddress(buf[off : off+20])
	if err != nil {
		return nil, err
	}
	off += 20
	var amt [16]byte
	copy(amt[:], buf[off:off+16])

	if _, err := types.PackedFeeParams.UnpackBytes(fee[:]); err != nil {
		return nil, err
	}

	return ForcedExit{
		ChainID: chainID, Initiator: initiator, InitiatorSub: initiatorSub,
		Target: target, TargetSub: targetSub, L2Source: l2Source, L1Target: l1Target,
		FeeToken: feeToken, PackedFee: fee, Nonce: nonce, TargetAddr: targetAddr, Amount: amt,
	}, nil
}
