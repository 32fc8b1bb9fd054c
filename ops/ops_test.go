package ops

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zklinkprotocol/recover-state-server/types"
)

// packedAmount/packedFee build a valid round-trippable packed encoding for
// tests, since the decoders reject non-round-trip bit patterns (spec
// §4.3: "the decoder MUST reject values whose pack/unpack is not a
// round-trip").
func packedAmount(t *testing.T, value int64) [5]byte {
	t.Helper()
	b, err := types.PackedAmountParams.PackBytes(big.NewInt(value), 5)
	require.NoError(t, err)
	var out [5]byte
	copy(out[:], b)
	return out
}

func packedFee(t *testing.T, value int64) [2]byte {
	t.Helper()
	b, err := types.PackedFeeParams.PackBytes(big.NewInt(value), 2)
	require.NoError(t, err)
	var out [2]byte
	copy(out[:], b)
	return out
}

func amount128(v int64) [16]byte {
	var out [16]byte
	big.NewInt(v).FillBytes(out[:])
	return out
}

func addr20(b byte) types.Address {
	raw := make([]byte, 20)
	raw[19] = b
	a, err := types.NewAddress(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// TestDecodeRoundTrip exercises Decode(Encode(op)) == op for every op
// variant (spec §8 invariant 3, "Pub-data round-trip").
func TestDecodeRoundTrip(t *testing.T) {
	cases := []RollupOp{
		Noop{},
		Deposit{
			ChainID: 1, AccountID: 7, SubAccountID: 0,
			L2TargetToken: 2, L1SourceToken: 2,
			Amount: amount128(1000), Owner: addr20(0xbb), SerialID: 0,
		},
		Transfer{
			From: 1, FromSub: 0, Token: 2, To: 2, ToSub: 0,
			PackedAmount: packedAmount(t, 100), PackedFee: packedFee(t, 1),
		},
		TransferToNew{
			FromID: 1, FromSub: 0, Token: 2,
			PackedAmount: packedAmount(t, 50), ToAddr: addr20(0xcc),
			ToID: 2, ToSub: 0, PackedFee: packedFee(t, 1),
		},
		Withdraw{
			ChainID: 1, From: 1, Sub: 0, L2Source: 2, L1Target: 2,
			To: addr20(0xdd), FullAmount: amount128(500),
			PackedFee: packedFee(t, 1), Nonce: 0, FastWithdraw: 1, WithdrawFeeRatio: 50,
		},
		FullExit{
			ChainID: 1, AccountID: 3, Sub: 0, Owner: addr20(0xee),
			L2Source: 2, L1Target: 2, ExitAmount: amount128(0), SerialID: 5,
		},
		ChangePubKey{
			ChainID: 1, AccountID: 4, Sub: 0, NewPkHash: [20]byte{0x11},
			Address: addr20(0x22), Nonce: 0, FeeToken: 2, PackedFee: packedFee(t, 1),
		},
		ForcedExit{
			ChainID: 1, Initiator: 1, InitiatorSub: 0, Target: 2, TargetSub: 0,
			L2Source: 2, L1Target: 2, FeeToken: 2, PackedFee: packedFee(t, 1),
			Nonce: 0, TargetAddr: addr20(0x33), Amount: amount128(300),
		},
		OrderMatching{
			Submitter: 1, Sub: 0, TxToken: 2,
			Maker: OrderSide{AccountID: 2, Sub: 0, SlotID: 0, Nonce: 0},
			Taker: OrderSide{AccountID: 3, Sub: 0, SlotID: 0, Nonce: 0},
			MakerTotal:     amount128(1000),
			TakerTotal:     amount128(400),
			MakerExchanged: amount128(400),
			TakerExchanged: amount128(400),
			PackedFee:      packedFee(t, 1),
			TxNonce:        0,
		},
	}

	for _, want := range cases {
		data := want.Encode()
		got, consumed, err := Decode(data)
		require.NoError(t, err, "%T", want)
		require.Equal(t, len(data), consumed)
		require.Equal(t, want, got)
	}
}

func TestDecodeUnknownOpCode(t *testing.T) {
	data := make([]byte, CHUNK_BYTES)
	data[0] = 0xff
	_, _, err := Decode(data)
	require.ErrorIs(t, err, ErrUnknownOpCode)
}

func TestDecodeShortPubdata(t *testing.T) {
	_, _, err := Decode([]byte{byte(OpDeposit)})
	require.ErrorIs(t, err, ErrShortPubdata)
}

func TestContractVersionChunkValidation(t *testing.T) {
	v := ContractVersionV0
	require.NoError(t, v.ValidateChunkTotal(111))
	require.NoError(t, v.ValidateChunkTotal(401))
	require.NoError(t, v.ValidateChunkTotal(511))
	require.Error(t, v.ValidateChunkTotal(112))

	unknown := v.Upgrade(7)
	_, err := unknown.SupportedChunkSizes()
	require.Error(t, err)
}

// TestCheckSourceTargetToken exercises spec §4.3's USDX mapping rule and
// §8 scenario S3.
func TestCheckSourceTargetToken(t *testing.T) {
	// Direct match, outside the USDX band.
	valid, real := CheckSourceTargetToken(5, 5)
	require.True(t, valid)
	require.Equal(t, types.TokenId(5), real)

	// Mismatched direct tokens.
	valid, _ = CheckSourceTargetToken(5, 6)
	require.False(t, valid)

	// USDX mapping: l2_source is the USD sentinel, l1_target inside the
	// shifted band.
	valid, real = CheckSourceTargetToken(USDTokenID, USDXTokenIDLowerBound+USDXTokenIDRange)
	require.True(t, valid)
	require.Equal(t, USDXTokenIDLowerBound, real)

	// l2_source itself inside the USDX band is always invalid.
	valid, _ = CheckSourceTargetToken(USDXTokenIDLowerBound, USDXTokenIDLowerBound)
	require.False(t, valid)
}
