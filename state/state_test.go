package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zklinkprotocol/recover-state-server/ops"
	"github.com/zklinkprotocol/recover-state-server/types"
)

const feeAccountID = types.AccountId(1)

func newTestState(t *testing.T) (*State, Handlers) {
	t.Helper()
	s := NewState()
	feeAcc := NewAccount(feeAccountID, addr20(0xf0))
	s.Accounts[feeAccountID] = feeAcc
	s.recomputeLeaf(feeAccountID)
	if feeAccountID >= s.nextFreeID {
		s.nextFreeID = feeAccountID + 1
	}
	return s, Handlers{FeeAccountID: feeAccountID}
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

func amount128(v int64) [16]byte {
	var out [16]byte
	big.NewInt(v).FillBytes(out[:])
	return out
}

func packedFeeBytes(t *testing.T, v int64) [2]byte {
	t.Helper()
	b, err := types.PackedFeeParams.PackBytes(big.NewInt(v), 2)
	require.NoError(t, err)
	var out [2]byte
	copy(out[:], b)
	return out
}

func packedAmountBytes(t *testing.T, v int64) [5]byte {
	t.Helper()
	b, err := types.PackedAmountParams.PackBytes(big.NewInt(v), 5)
	require.NoError(t, err)
	var out [5]byte
	copy(out[:], b)
	return out
}

// TestDepositCreatesAccountAndCreditsGlobal exercises scenario S1: a
// Deposit to a fresh account id both credits the account's l2 token and
// the global asset account's mapped l1 token.
func TestDepositCreatesAccountAndCreditsGlobal(t *testing.T) {
	s, h := newTestState(t)

	dep := ops.Deposit{
		ChainID: 1, AccountID: 10, SubAccountID: 0,
		L2TargetToken: 5, L1SourceToken: 5,
		Amount: amount128(1000), Owner: addr20(0xaa), SerialID: 0,
	}
	_, err := h.Apply(s, dep)
	require.NoError(t, err)

	acc := s.Get(10)
	require.NotNil(t, acc)
	require.True(t, acc.Address.Equal(dep.Owner))
	require.Equal(t, big.NewInt(1000), acc.Balance(0, 5))

	global := s.Get(types.GlobalAssetAccountID)
	require.Equal(t, big.NewInt(1000), global.Balance(globalChainSub(1), 5))
}

// TestTransferSelfSubAccount exercises scenario S2: a Transfer between
// two sub-accounts of the same account id moves balance without touching
// any other account, and bumps the sender's nonce once.
func TestTransferSelfSubAccount(t *testing.T) {
	s, h := newTestState(t)
	_, err := h.Apply(s, ops.Deposit{
		ChainID: 1, AccountID: 10, SubAccountID: 0,
		L2TargetToken: 5, L1SourceToken: 5,
		Amount: amount128(1000), Owner: addr20(0xaa),
	})
	require.NoError(t, err)

	tr := ops.Transfer{
		From: 10, FromSub: 0, Token: 5, To: 10, ToSub: 1,
		PackedAmount: packedAmountBytes(t, 300), PackedFee: packedFeeBytes(t, 10),
	}
	_, err = h.Apply(s, tr)
	require.NoError(t, err)

	acc := s.Get(10)
	require.Equal(t, big.NewInt(690), acc.Balance(0, 5))
	require.Equal(t, big.NewInt(300), acc.Balance(1, 5))
	require.Equal(t, types.Nonce(1), acc.Nonce)

	feeAcc := s.Get(feeAccountID)
	require.Equal(t, big.NewInt(10), feeAcc.Balance(0, 5))
}

// TestDepositUSDXMapping exercises scenario S3: a Deposit whose
// l2_target_token is the USD sentinel credits the global asset account
// under the mapped real L1 token, not the sentinel itself.
func TestDepositUSDXMapping(t *testing.T) {
	s, h := newTestState(t)

	l1Target := ops.USDXTokenIDLowerBound + ops.USDXTokenIDRange
	dep := ops.Deposit{
		ChainID: 2, AccountID: 20, SubAccountID: 0,
		L2TargetToken: ops.USDTokenID, L1SourceToken: l1Target,
		Amount: amount128(500), Owner: addr20(0xbb),
	}
	_, err := h.Apply(s, dep)
	require.NoError(t, err)

	acc := s.Get(20)
	require.Equal(t, big.NewInt(500), acc.Balance(0, ops.USDTokenID))

	global := s.Get(types.GlobalAssetAccountID)
	require.Equal(t, big.NewInt(500), global.Balance(globalChainSub(2), ops.USDXTokenIDLowerBound))
}

// TestFullExitOnMissingAccount exercises scenario S4: a FullExit against
// an account id that doesn't exist (or whose owner mismatches) produces
// two zero-delta updates rather than failing the block.
func TestFullExitOnMissingAccount(t *testing.T) {
	s, h := newTestState(t)

	fe := ops.FullExit{
		ChainID: 1, AccountID: 99, Sub: 0, Owner: addr20(0xcc),
		L2Source: 5, L1Target: 5, ExitAmount: amount128(0),
	}
	updates, err := h.Apply(s, fe)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	for _, u := range updates {
		require.Equal(t, 0, u.OldValue.Cmp(u.NewValue))
	}
	require.Nil(t, s.Get(99))
}

// TestForcedExitMinRule exercises scenario S5: ForcedExit withdraws
// min(target_balance, global_balance), never more than either side can
// cover.
func TestForcedExitMinRule(t *testing.T) {
	s, h := newTestState(t)
	_, err := h.Apply(s, ops.Deposit{
		ChainID: 1, AccountID: 10, SubAccountID: 0,
		L2TargetToken: 5, L1SourceToken: 5,
		Amount: amount128(1000), Owner: addr20(0xaa),
	})
	require.NoError(t, err)

	target := NewAccount(30, addr20(0xdd))
	target.AddBalance(0, 5, big.NewInt(10000)) // inflated beyond global coverage
	s.Accounts[30] = target
	s.recomputeLeaf(30)

	fe := ops.ForcedExit{
		ChainID: 1, Initiator: 10, InitiatorSub: 0, Target: 30, TargetSub: 0,
		L2Source: 5, L1Target: 5, FeeToken: 5, PackedFee: packedFeeBytes(t, 1),
		Nonce: 0, TargetAddr: addr20(0xdd), Amount: amount128(10000),
	}
	_, err = h.Apply(s, fe)
	require.NoError(t, err)

	global := s.Get(types.GlobalAssetAccountID)
	require.Equal(t, 0, global.Balance(globalChainSub(1), 5).Sign())
	require.Equal(t, big.NewInt(9000), s.Get(30).Balance(0, 5))
}

// TestReversibility exercises spec invariant 1: applying a block's
// updates and then ReverseAll(updates) restores the exact pre-state root
// hash.
func TestReversibility(t *testing.T) {
	s, h := newTestState(t)
	before := s.RootHash()

	var allUpdates []AccountUpdate
	apply := func(op ops.RollupOp) {
		u, err := h.Apply(s, op)
		require.NoError(t, err)
		allUpdates = append(allUpdates, u...)
	}

	apply(ops.Deposit{
		ChainID: 1, AccountID: 10, SubAccountID: 0,
		L2TargetToken: 5, L1SourceToken: 5,
		Amount: amount128(1000), Owner: addr20(0xaa),
	})
	apply(ops.Transfer{
		From: 10, FromSub: 0, Token: 5, To: 10, ToSub: 1,
		PackedAmount: packedAmountBytes(t, 100), PackedFee: packedFeeBytes(t, 5),
	})

	require.NotEqual(t, before, s.RootHash())

	require.NoError(t, s.ApplyAll(ReverseAll(allUpdates)))
	require.Equal(t, before, s.RootHash())
}

// TestGlobalAssetConservation exercises the global-asset conservation
// invariant: after a Deposit followed by a matching Withdraw of the same
// amount, the global asset account's balance for that token returns to
// its starting value.
func TestGlobalAssetConservation(t *testing.T) {
	s, h := newTestState(t)

	_, err := h.Apply(s, ops.Deposit{
		ChainID: 3, AccountID: 40, SubAccountID: 0,
		L2TargetToken: 7, L1SourceToken: 7,
		Amount: amount128(2000), Owner: addr20(0xee),
	})
	require.NoError(t, err)

	global := s.Get(types.GlobalAssetAccountID)
	require.Equal(t, big.NewInt(2000), global.Balance(globalChainSub(3), 7))

	w := ops.Withdraw{
		ChainID: 3, From: 40, Sub: 0, L2Source: 7, L1Target: 7,
		To: addr20(0xee), FullAmount: amount128(2000),
		PackedFee: packedFeeBytes(t, 0), Nonce: 0,
	}
	_, err = h.Apply(s, w)
	require.NoError(t, err)

	require.Equal(t, 0, global.Balance(globalChainSub(3), 7).Sign())
}

// TestOrderMatchingPartialFillLeavesResidue exercises TidyOrder's stated
// purpose: a match whose exchanged amount is smaller than the order's own
// declared total leaves the difference as a nonzero residue, rather than
// always zeroing out and bumping the slot's nonce.
func TestOrderMatchingPartialFillLeavesResidue(t *testing.T) {
	s, h := newTestState(t)

	maker := NewAccount(10, addr20(0xaa))
	maker.AddBalance(0, 5, big.NewInt(10000))
	s.Accounts[maker.ID] = maker
	s.recomputeLeaf(maker.ID)

	taker := NewAccount(11, addr20(0xbb))
	taker.AddBalance(0, 5, big.NewInt(10000))
	s.Accounts[taker.ID] = taker
	s.recomputeLeaf(taker.ID)

	submitter := NewAccount(12, addr20(0xcc))
	submitter.AddBalance(0, 5, big.NewInt(100))
	s.Accounts[submitter.ID] = submitter
	s.recomputeLeaf(submitter.ID)

	om := ops.OrderMatching{
		Submitter: submitter.ID, Sub: 0, TxToken: 5,
		Maker: ops.OrderSide{AccountID: maker.ID, Sub: 0, SlotID: 0, Nonce: 0},
		Taker: ops.OrderSide{AccountID: taker.ID, Sub: 0, SlotID: 0, Nonce: 0},
		MakerTotal:     amount128(1000),
		TakerTotal:     amount128(400),
		MakerExchanged: amount128(400),
		TakerExchanged: amount128(400),
		PackedFee:      packedFeeBytes(t, 1),
	}
	_, err := h.Apply(s, om)
	require.NoError(t, err)

	makerOrder := s.Get(maker.ID).Order(0, 0)
	require.Equal(t, big.NewInt(600), makerOrder.Residue, "partial fill must leave the unexchanged residue")
	require.Equal(t, types.Nonce(0), makerOrder.Nonce)

	takerOrder := s.Get(taker.ID).Order(0, 0)
	require.Equal(t, 0, takerOrder.Residue.Sign(), "a fully-exchanged order must zero out")
	require.Equal(t, types.Nonce(1), takerOrder.Nonce, "zeroing a slot's residue bumps its nonce")
}

// TestRootHashDeterminism exercises spec invariant "tree-root
// determinism": replaying the same op sequence against two independent
// States yields identical root hashes.
func TestRootHashDeterminism(t *testing.T) {
	replay := func() [32]byte {
		s, h := newTestState(t)
		_, err := h.Apply(s, ops.Deposit{
			ChainID: 1, AccountID: 10, SubAccountID: 0,
			L2TargetToken: 5, L1SourceToken: 5,
			Amount: amount128(1000), Owner: addr20(0xaa),
		})
		require.NoError(t, err)
		_, err = h.Apply(s, ops.Transfer{
			From: 10, FromSub: 0, Token: 5, To: 10, ToSub: 1,
			PackedAmount: packedAmountBytes(t, 100), PackedFee: packedFeeBytes(t, 5),
		})
		require.NoError(t, err)
		return s.RootHash()
	}

	require.Equal(t, replay(), replay())
}
