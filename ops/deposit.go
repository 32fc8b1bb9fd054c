package ops

import (
	"github.com/zklinkprotocol/recover-state-server/types"
)

// Deposit is a priority op initiated on L1: opcode, chain_id, account_id(4),
// sub_account_id, l2_target_token(2), l1_source_token(2), amount(16),
// owner(20), serial_id(8) (spec §4.3 table).
type Deposit struct {
	ChainID        types.ChainId
	AccountID      types.AccountId
	SubAccountID   types.SubAccountId
	L2TargetToken  types.TokenId
	L1SourceToken  types.TokenId
	Amount         [16]byte // uint128, big-endian
	Owner          types.Address
	SerialID       uint64
}

func (Deposit) OpCode() OpCode { return OpDeposit }
func (Deposit) Chunks() int    { return 3 }

func (d Deposit) Encode() []byte {
	buf := make([]byte, 3*CHUNK_BYTES)
	off := 0
	buf[off] = byte(OpDeposit)
	off++
	buf[off] = byte(d.ChainID)
	off++
	putBE(buf, off, 4, uint64(d.AccountID))
	off += 4
	buf[off] = byte(d.SubAccountID)
	off++
	putBE(buf, off, 2, uint64(d.L2TargetToken))
	off += 2
	putBE(buf, off, 2, uint64(d.L1SourceToken))
	off += 2
	copy(buf[off:off+16], d.Amount[:])
	off += 16
	ownerBytes := d.Owner.Bytes()
	copy(buf[off:off+20], ownerBytes[:min(20, len(ownerBytes))])
	off += 20
	putBE(buf, off, 8, d.SerialID)
	return buf
}

func (d Deposit) PubDataCommitment() []byte { return d.Encode() }

func decodeDeposit(buf []byte) (RollupOp, error) {
	off := 1
	chainID := types.ChainId(buf[off])
	off++
	accountID := types.AccountId(be(buf, off, 4))
	off += 4
	sub := types.SubAccountId(buf[off])
	off++
	l2Target := types.TokenId(be(buf, off, 2))
	off += 2
	l1Source := types.TokenId(be(buf, off, 2))
	off += 2
	var amount [16]byte
	copy(amount[:], buf[off:off+16])
	off += 16
	owner, err := types.NewAddress(buf[off : off+20])
	if err != nil {
		return nil, err
	}
	off += 20
	serial := be(buf, off, 8)

	return Deposit{
		ChainID:       chainID,
		AccountID:     accountID,
		SubAccountID:  sub,
		L2TargetToken: l2Target,
		L1SourceToken: l1Source,
		Amount:        amount,
		Owner:         owner,
		SerialID:      serial,
	}, nil
}
