package ops

import "github.com/zklinkprotocol/recover-state-server/types"

// ChangePubKey: opcode, chain_id, account(4), sub, new_pk_hash(20),
// address(20), nonce(4), fee_token(2), packed_fee(2).
type ChangePubKey struct {
	ChainID   types.ChainId
	AccountID types.AccountId
	Sub       types.SubAccountId
	NewPkHash [20]byte
	Address   types.Address
	Nonce     types.Nonce
	FeeToken  types.TokenId
	PackedFee [2]byte
}

func (ChangePubKey) OpCode() OpCode { return OpChangePubKey }
func (ChangePubKey) Chunks() int    { return 3 }

func (c ChangePubKey) Encode() []byte {
	buf := make([]byte, 3*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpChangePubKey)
	off++
	buf[off] = byte(c.ChainID)
	off++
	putBE(buf, off, 4, uint64(c.AccountID))
	off += 4
	buf[off] = byte(c.Sub)
	off++
	copy(buf[off:off+20], c.NewPkHash[:])
	off += 20
	addrBytes := c.Address.Bytes()
	copy(buf[off:off+20], addrBytes[:min(20, len(addrBytes))])
	off += 20
	putBE(buf, off, 4, uint64(c.Nonce))
	off += 4
	putBE(buf, off, 2, uint64(c.FeeToken))
	off += 2
	copy(buf[off:off+2], c.PackedFee[:])
	return buf
}

func (c ChangePubKey) PubDataCommitment() []byte { return c.Encode() }

func decodeChangePubKey(buf []byte) (RollupOp, error) {
	off := 1
	chainID := types.ChainId(buf[off])
	off++
	accountID := types.AccountId(be(buf, off, 4))
	off += 4
	sub := types.SubAccountId(buf[off])
	off++
	var pkh [20]byte
	copy(pkh[:], buf[off:off+20])
	off += 20
	addr, err := types.NewAddress(buf[off : off+20])
	if err != nil {
		return nil, err
	}
	off += 20
	nonce := types.Nonce(be(buf, off, 4))
	off += 4
	feeToken := types.TokenId(be(buf, off, 2))
	off += 2
	var fee [2]byte
	copy(fee[:], buf[off:off+2])

	if _, err := types.PackedFeeParams.UnpackBytes(fee[:]); err != nil {
		return nil, err
	}

	return ChangePubKey{
		ChainID: chainID, AccountID: accountID, Sub: sub, NewPkHash: pkh,
		Address: addr, Nonce: nonce, FeeToken: feeToken, PackedFee: fee,
	}, nil
}
