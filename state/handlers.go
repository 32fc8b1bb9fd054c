package state

import (
	"errors"
	"math/big"

	"github.com/zklinkprotocol/recover-state-server/ops"
	"github.com/zklinkprotocol/recover-state-server/types"
)

// State-transition violation errors (spec §7: "fatal — L1 committed a block
// that would fail our invariants").
var (
	ErrNonceMismatch        = errors.New("state: tx nonce does not match account nonce")
	ErrInsufficientBalance  = errors.New("state: balance insufficient for amount+fee")
	ErrPubKeyHashMismatch   = errors.New("state: pub_key_hash does not match signer")
	ErrPubKeyHashAlreadySet = errors.New("state: target account already has a pub_key_hash set")
	ErrGlobalUnderflow      = errors.New("state: global asset account balance would underflow")
	ErrTargetIsGlobal       = errors.New("state: target account cannot be the global asset account")
	ErrInvalidTokenPair     = errors.New("state: l2_source/l1_target token pair is invalid")
)

var zero = big.NewInt(0)

// Handlers applies decoded rollup ops to a State, returning the list of
// AccountUpdates each op produced (spec §4.4). FeeAccountID names the
// account every op's fee is credited to under sub-account 0, unless the fee
// is zero.
type Handlers struct {
	FeeAccountID types.AccountId
}

// Apply dispatches op to its handler and applies the resulting updates to
// s, returning them for the per-block replay log.
func (h Handlers) Apply(s *State, op ops.RollupOp) ([]AccountUpdate, error) {
	var (
		updates []AccountUpdate
		fee     *big.Int
		feeSub  types.SubAccountId
		feeTok  types.TokenId
		err     error
	)
	switch o := op.(type) {
	case ops.Noop:
		return nil, nil
	case ops.Deposit:
		updates, fee, feeSub, feeTok, err = h.applyDeposit(s, o)
	case ops.Transfer:
		updates, fee, feeSub, feeTok, err = h.applyTransfer(s, o)
	case ops.TransferToNew:
		updates, fee, feeSub, feeTok, err = h.applyTransferToNew(s, o)
	case ops.Withdraw:
		updates, fee, feeSub, feeTok, err = h.applyWithdraw(s, o)
	case ops.FullExit:
		updates, err = h.applyFullExit(s, o)
	case ops.ForcedExit:
		updates, fee, feeSub, feeTok, err = h.applyForcedExit(s, o)
	case ops.ChangePubKey:
		updates, fee, feeSub, feeTok, err = h.applyChangePubKey(s, o)
	case ops.OrderMatching:
		updates, fee, feeSub, feeTok, err = h.applyOrderMatching(s, o)
	default:
		return nil, errors.New("state: unhandled op type")
	}
	if err != nil {
		return nil, err
	}

	if fee != nil && fee.Sign() != 0 {
		feeUpdate, err := h.creditFee(s, feeSub, feeTok, fee)
		if err != nil {
			return nil, err
		}
		updates = append(updates, feeUpdate)
	}

	for _, u := range updates {
		if err := s.Apply(u); err != nil {
			return nil, err
		}
	}
	return updates, nil
}

// creditFee emits (and does not yet apply) the fee-account balance update
// credited under sub-account 0, per spec §4.4's closing rule.
func (h Handlers) creditFee(s *State, _ types.SubAccountId, token types.TokenId, fee *big.Int) (AccountUpdate, error) {
	acc := s.Get(h.FeeAccountID)
	if acc == nil {
		return AccountUpdate{}, errors.New("state: fee account does not exist")
	}
	const feeSub = types.SubAccountId(0)
	old := acc.Balance(feeSub, token)
	return AccountUpdate{
		Kind: UpdateBalance, AccountID: h.FeeAccountID,
		Sub: feeSub, Token: token,
		OldValue: new(big.Int).Set(old),
		NewValue: new(big.Int).Add(old, fee),
	}, nil
}

func balanceUpdate(acc *Account, sub types.SubAccountId, token types.TokenId, delta *big.Int) AccountUpdate {
	old := acc.Balance(sub, token)
	return AccountUpdate{
		Kind: UpdateBalance, AccountID: acc.ID,
		Sub: sub, Token: token,
		OldValue: new(big.Int).Set(old),
		NewValue: new(big.Int).Add(old, delta),
	}
}

// globalChainSub maps an L1 chain id onto the sub-account slot the global
// asset account tracks that chain's custody under.
func globalChainSub(chain types.ChainId) types.SubAccountId {
	return types.SubAccountId(chain)
}

// applyDeposit credits the target's l2_target_token and the global asset
// account's mapped l1_source_token (spec §4.4 "Deposit").
func (h Handlers) applyDeposit(s *State, d ops.Deposit) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	valid, realL1 := ops.CheckSourceTargetToken(d.L2TargetToken, d.L1SourceToken)
	if !valid {
		return nil, nil, 0, 0, ErrInvalidTokenPair
	}

	acc := s.Get(d.AccountID)
	var updates []AccountUpdate
	if acc == nil {
		acc = NewAccount(d.AccountID, d.Owner)
		s.Accounts[d.AccountID] = acc
		updates = append(updates, AccountUpdate{Kind: UpdateCreate, AccountID: d.AccountID, Address: d.Owner, Nonce: 0})
	}

	amount := new(big.Int).SetBytes(d.Amount[:])
	updates = append(updates, balanceUpdate(acc, d.SubAccountID, d.L2TargetToken, amount))

	global := s.Get(types.GlobalAssetAccountID)
	updates = append(updates, balanceUpdate(global, globalChainSub(d.ChainID), realL1, amount))

	return updates, nil, 0, 0, nil
}

// applyTransfer handles both the self-transfer and cross-account shapes
// (spec §4.4 "Transfer").
func (h Handlers) applyTransfer(s *State, t ops.Transfer) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	from := s.Get(t.From)
	if from == nil {
		return nil, nil, 0, 0, errors.New("state: transfer from nonexistent account")
	}

	amount, err := types.PackedAmountParams.UnpackBytes(t.PackedAmount[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	fee, err := types.PackedFeeParams.UnpackBytes(t.PackedFee[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}

	debit := from.Balance(t.FromSub, t.Token)
	need := new(big.Int).Add(amount, fee)
	if debit.Cmp(need) < 0 {
		return nil, nil, 0, 0, ErrInsufficientBalance
	}

	var updates []AccountUpdate
	updates = append(updates, balanceUpdate(from, t.FromSub, t.Token, new(big.Int).Neg(need)))

	if t.From == t.To {
		updates = append(updates, balanceUpdate(from, t.ToSub, t.Token, amount))
	} else {
		to := s.Get(t.To)
		if to == nil {
			return nil, nil, 0, 0, errors.New("state: transfer to nonexistent account")
		}
		updates = append(updates, balanceUpdate(to, t.ToSub, t.Token, amount))
	}

	updates = append(updates, AccountUpdate{
		Kind: UpdateChangePubKeyHash, AccountID: t.From,
		OldPubKeyHash: from.PubKeyHash, NewPubKeyHash: from.PubKeyHash,
		OldAccNonce: from.Nonce, NewAccNonce: from.Nonce + 1,
	})

	return updates, fee, 0, t.Token, nil
}

// applyTransferToNew allocates the recipient account before the balance
// updates (spec §4.4 "TransferToNew").
func (h Handlers) applyTransferToNew(s *State, t ops.TransferToNew) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	from := s.Get(t.FromID)
	if from == nil {
		return nil, nil, 0, 0, errors.New("state: transfer from nonexistent account")
	}

	amount, err := types.PackedAmountParams.UnpackBytes(t.PackedAmount[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	fee, err := types.PackedFeeParams.UnpackBytes(t.PackedFee[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}

	need := new(big.Int).Add(amount, fee)
	if from.Balance(t.FromSub, t.Token).Cmp(need) < 0 {
		return nil, nil, 0, 0, ErrInsufficientBalance
	}

	var updates []AccountUpdate
	toID := t.ToID
	if s.Get(toID) == nil {
		updates = append(updates, AccountUpdate{Kind: UpdateCreate, AccountID: toID, Address: t.ToAddr, Nonce: 0})
	}

	updates = append(updates, balanceUpdate(from, t.FromSub, t.Token, new(big.Int).Neg(need)))
	updates = append(updates, AccountUpdate{
		Kind: UpdateChangePubKeyHash, AccountID: t.FromID,
		OldPubKeyHash: from.PubKeyHash, NewPubKeyHash: from.PubKeyHash,
		OldAccNonce: from.Nonce, NewAccNonce: from.Nonce + 1,
	})

	toBalanceAcc := s.Get(toID)
	if toBalanceAcc == nil {
		toBalanceAcc = NewAccount(toID, t.ToAddr)
	}
	updates = append(updates, balanceUpdate(toBalanceAcc, t.ToSub, t.Token, amount))

	return updates, fee, 0, t.Token, nil
}

// applyWithdraw debits the account and the global asset account by amount
// (not fee); global underflow is fatal (spec §4.4 "Withdraw").
func (h Handlers) applyWithdraw(s *State, w ops.Withdraw) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	valid, realL1 := ops.CheckSourceTargetToken(w.L2Source, w.L1Target)
	if !valid {
		return nil, nil, 0, 0, ErrInvalidTokenPair
	}

	acc := s.Get(w.From)
	if acc == nil {
		return nil, nil, 0, 0, errors.New("state: withdraw from nonexistent account")
	}

	amount := new(big.Int).SetBytes(w.FullAmount[:])
	fee, err := types.PackedFeeParams.UnpackBytes(w.PackedFee[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}

	need := new(big.Int).Add(amount, fee)
	if acc.Balance(w.Sub, w.L2Source).Cmp(need) < 0 {
		return nil, nil, 0, 0, ErrInsufficientBalance
	}

	global := s.Get(types.GlobalAssetAccountID)
	chainSub := globalChainSub(w.ChainID)
	if global.Balance(chainSub, realL1).Cmp(amount) < 0 {
		return nil, nil, 0, 0, ErrGlobalUnderflow
	}

	var updates []AccountUpdate
	updates = append(updates, balanceUpdate(acc, w.Sub, w.L2Source, new(big.Int).Neg(need)))
	updates = append(updates, balanceUpdate(global, chainSub, realL1, new(big.Int).Neg(amount)))
	updates = append(updates, AccountUpdate{
		Kind: UpdateChangePubKeyHash, AccountID: w.From,
		OldPubKeyHash: acc.PubKeyHash, NewPubKeyHash: acc.PubKeyHash,
		OldAccNonce: acc.Nonce, NewAccNonce: acc.Nonce + 1,
	})

	return updates, fee, 0, w.L2Source, nil
}

// applyFullExit is non-failing: a missing account or address mismatch
// yields two zero-delta updates instead of an error, preserving update-log
// alignment (spec §4.4 "FullExit", scenario S4).
func (h Handlers) applyFullExit(s *State, f ops.FullExit) ([]AccountUpdate, error) {
	valid, realL1 := ops.CheckSourceTargetToken(f.L2Source, f.L1Target)
	if !valid {
		return nil, ErrInvalidTokenPair
	}

	acc := s.Get(f.AccountID)
	global := s.Get(types.GlobalAssetAccountID)
	chainSub := globalChainSub(f.ChainID)

	if acc == nil || !acc.Address.Equal(f.Owner) {
		return []AccountUpdate{
			balanceUpdate(orZeroAcc(acc, f.AccountID), f.Sub, f.L2Source, zero),
			balanceUpdate(global, chainSub, realL1, zero),
		}, nil
	}

	amount := new(big.Int).SetBytes(f.ExitAmount[:])
	userBal := acc.Balance(f.Sub, f.L2Source)
	globalBal := global.Balance(chainSub, realL1)
	withdrawn := min3(amount, userBal, globalBal)

	return []AccountUpdate{
		balanceUpdate(acc, f.Sub, f.L2Source, new(big.Int).Neg(withdrawn)),
		balanceUpdate(global, chainSub, realL1, new(big.Int).Neg(withdrawn)),
	}, nil
}

func orZeroAcc(acc *Account, id types.AccountId) *Account {
	if acc != nil {
		return acc
	}
	return &Account{ID: id, Balances: map[uint64]*big.Int{}}
}

func min3(a, b, c *big.Int) *big.Int {
	m := a
	if b.Cmp(m) < 0 {
		m = b
	}
	if c.Cmp(m) < 0 {
		m = c
	}
	return new(big.Int).Set(m)
}

func min2(a, b *big.Int) *big.Int {
	if b.Cmp(a) < 0 {
		return new(big.Int).Set(b)
	}
	return new(big.Int).Set(a)
}

// applyForcedExit fails if the target already has a pub_key_hash, the
// initiator's nonce mismatches, the initiator can't cover fee, or the
// target is the global account (spec §4.4 "ForcedExit", scenario S5).
func (h Handlers) applyForcedExit(s *State, f ops.ForcedExit) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	if f.Target == types.GlobalAssetAccountID {
		return nil, nil, 0, 0, ErrTargetIsGlobal
	}
	valid, realL1 := ops.CheckSourceTargetToken(f.L2Source, f.L1Target)
	if !valid {
		return nil, nil, 0, 0, ErrInvalidTokenPair
	}

	initiator := s.Get(f.Initiator)
	if initiator == nil {
		return nil, nil, 0, 0, errors.New("state: forced exit initiator does not exist")
	}
	if f.Nonce != initiator.Nonce {
		return nil, nil, 0, 0, ErrNonceMismatch
	}

	target := s.Get(f.Target)
	if target == nil {
		return nil, nil, 0, 0, errors.New("state: forced exit target does not exist")
	}
	var zeroHash [20]byte
	if target.PubKeyHash != zeroHash {
		return nil, nil, 0, 0, ErrPubKeyHashAlreadySet
	}

	fee, err := types.PackedFeeParams.UnpackBytes(f.PackedFee[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	if initiator.Balance(f.InitiatorSub, f.FeeToken).Cmp(fee) < 0 {
		return nil, nil, 0, 0, ErrInsufficientBalance
	}

	global := s.Get(types.GlobalAssetAccountID)
	chainSub := globalChainSub(f.ChainID)
	amount := min2(target.Balance(f.TargetSub, f.L2Source), global.Balance(chainSub, realL1))

	var updates []AccountUpdate
	updates = append(updates, balanceUpdate(target, f.TargetSub, f.L2Source, new(big.Int).Neg(amount)))
	updates = append(updates, balanceUpdate(global, chainSub, realL1, new(big.Int).Neg(amount)))
	updates = append(updates, balanceUpdate(initiator, f.InitiatorSub, f.FeeToken, new(big.Int).Neg(fee)))
	updates = append(updates, AccountUpdate{
		Kind: UpdateChangePubKeyHash, AccountID: f.Initiator,
		OldPubKeyHash: initiator.PubKeyHash, NewPubKeyHash: initiator.PubKeyHash,
		OldAccNonce: initiator.Nonce, NewAccNonce: initiator.Nonce + 1,
	})

	return updates, fee, f.InitiatorSub, f.FeeToken, nil
}

// applyChangePubKey requires tx.nonce == account.nonce and sufficient fee
// balance, then updates pkh and increments nonce (spec §4.4 "ChangePubKey").
func (h Handlers) applyChangePubKey(s *State, c ops.ChangePubKey) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	acc := s.Get(c.AccountID)
	if acc == nil {
		return nil, nil, 0, 0, errors.New("state: change_pubkey on nonexistent account")
	}
	if c.Nonce != acc.Nonce {
		return nil, nil, 0, 0, ErrNonceMismatch
	}

	fee, err := types.PackedFeeParams.UnpackBytes(c.PackedFee[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}
	if acc.Balance(c.Sub, c.FeeToken).Cmp(fee) < 0 {
		return nil, nil, 0, 0, ErrInsufficientBalance
	}

	var updates []AccountUpdate
	updates = append(updates, balanceUpdate(acc, c.Sub, c.FeeToken, new(big.Int).Neg(fee)))
	updates = append(updates, AccountUpdate{
		Kind: UpdateChangePubKeyHash, AccountID: c.AccountID,
		OldPubKeyHash: acc.PubKeyHash, NewPubKeyHash: c.NewPkHash,
		OldAccNonce: acc.Nonce, NewAccNonce: acc.Nonce + 1,
	})
	return updates, fee, c.Sub, c.FeeToken, nil
}

// applyOrderMatching runs CircuitTidyOrder::update for the maker and taker
// legs: a fresh or stale residue is reset to the order's amount and the
// incoming nonce, then the exchanged amount is subtracted; a residue that
// reaches zero bumps the slot's nonce, which must not exceed MaxNonce
// (spec §4.4 "OrderMatching").
func (h Handlers) applyOrderMatching(s *State, o ops.OrderMatching) ([]AccountUpdate, *big.Int, types.SubAccountId, types.TokenId, error) {
	makerAcc := s.Get(o.Maker.AccountID)
	if makerAcc == nil {
		return nil, nil, 0, 0, errors.New("state: order matching maker account does not exist")
	}
	takerAcc := s.Get(o.Taker.AccountID)
	if takerAcc == nil {
		return nil, nil, 0, 0, errors.New("state: order matching taker account does not exist")
	}

	makerTotal := new(big.Int).SetBytes(o.MakerTotal[:])
	takerTotal := new(big.Int).SetBytes(o.TakerTotal[:])
	makerExchanged := new(big.Int).SetBytes(o.MakerExchanged[:])
	takerExchanged := new(big.Int).SetBytes(o.TakerExchanged[:])

	makerUpdate, err := tidyOrderUpdate(makerAcc, o.Maker.Sub, o.Maker.SlotID, o.Maker.Nonce, makerTotal, makerExchanged)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	takerUpdate, err := tidyOrderUpdate(takerAcc, o.Taker.Sub, o.Taker.SlotID, o.Taker.Nonce, takerTotal, takerExchanged)
	if err != nil {
		return nil, nil, 0, 0, err
	}

	fee, err := types.PackedFeeParams.UnpackBytes(o.PackedFee[:])
	if err != nil {
		return nil, nil, 0, 0, err
	}

	submitter := s.Get(o.Submitter)
	if submitter == nil {
		return nil, nil, 0, 0, errors.New("state: order matching submitter does not exist")
	}
	if submitter.Balance(o.Sub, o.TxToken).Cmp(fee) < 0 {
		return nil, nil, 0, 0, ErrInsufficientBalance
	}

	updates := []AccountUpdate{
		makerUpdate, takerUpdate,
		balanceUpdate(submitter, o.Sub, o.TxToken, new(big.Int).Neg(fee)),
	}
	return updates, fee, o.Sub, o.TxToken, nil
}

// tidyOrderUpdate applies the CircuitTidyOrder::update rule for one order
// slot: reset residue/nonce to the order's declared total on a fresh-or-
// stale slot, then subtract only this match's exchanged amount; a residue
// reaching zero increments the slot's nonce. orderTotal and exchanged are
// kept distinct so a partial fill (orderTotal > exchanged) leaves a
// nonzero residue instead of always landing on zero.
func tidyOrderUpdate(acc *Account, sub types.SubAccountId, slot types.SlotId, orderNonce types.Nonce, orderTotal, exchanged *big.Int) (AccountUpdate, error) {
	old := acc.Order(sub, slot)
	newOrder := old

	if old.Residue == nil || old.Residue.Sign() == 0 || orderNonce > old.Nonce {
		newOrder.Residue = new(big.Int).Set(orderTotal)
		newOrder.Nonce = orderNonce
	}

	newOrder.Residue = new(big.Int).Sub(newOrder.Residue, exchanged)
	if newOrder.Residue.Sign() <= 0 {
		newOrder.Residue = big.NewInt(0)
		if newOrder.Nonce == types.MaxNonce {
			return AccountUpdate{}, errors.New("state: order slot nonce would exceed MaxNonce")
		}
		newOrder.Nonce++
	}

	return AccountUpdate{
		Kind: UpdateTidyOrder, AccountID: acc.ID,
		Sub: sub, Slot: slot,
		OldOrder: old, NewOrder: newOrder,
	}, nil
}
