package state

import (
	"math/big"

	"github.com/zklinkprotocol/recover-state-server/types"
)

// UpdateKind tags the variant of an AccountUpdate (spec §3: "AccountUpdate
// — a tagged variant {Create, Delete, UpdateBalance, ChangePubKeyHash,
// UpdateTidyOrder}. Each has an exact reversal.").
type UpdateKind int

const (
	UpdateCreate UpdateKind = iota
	UpdateDelete
	UpdateBalance
	UpdateChangePubKeyHash
	UpdateTidyOrder
)

// AccountUpdate records one state mutation applied during op replay. The
// replay log (one []AccountUpdate per block) is the sole input needed to
// reverse a block's effects (spec invariant 1: "Update reversibility").
type AccountUpdate struct {
	Kind      UpdateKind
	AccountID types.AccountId

	// Create / Delete
	Address types.Address
	Nonce   types.Nonce // nonce at time of create/delete

	// UpdateBalance
	Sub      types.SubAccountId
	Token    types.TokenId
	OldValue *big.Int
	NewValue *big.Int

	// ChangePubKeyHash
	OldPubKeyHash [20]byte
	NewPubKeyHash [20]byte
	OldAccNonce   types.Nonce
	NewAccNonce   types.Nonce

	// UpdateTidyOrder
	Slot      types.SlotId
	OldOrder  TidyOrder
	NewOrder  TidyOrder
}

// Reverse returns the update that undoes this one exactly, per spec
// invariant 1. Reversing a Create yields a Delete and vice versa; balance
// and order updates swap Old/New.
func (u AccountUpdate) Reverse() AccountUpdate {
	r := u
	switch u.Kind {
	case UpdateCreate:
		r.Kind = UpdateDelete
	case UpdateDelete:
		r.Kind = UpdateCreate
	case UpdateBalance:
		r.OldValue, r.NewValue = u.NewValue, u.OldValue
	case UpdateChangePubKeyHash:
		r.OldPubKeyHash, r.NewPubKeyHash = u.NewPubKeyHash, u.OldPubKeyHash
		r.OldAccNonce, r.NewAccNonce = u.NewAccNonce, u.OldAccNonce
	case UpdateTidyOrder:
		r.OldOrder, r.NewOrder = u.NewOrder, u.OldOrder
	}
	return r
}

// ReverseAll reverses a list of updates in reverse application order, so
// applying the result to the post-state yields the pre-state exactly.
func ReverseAll(updates []AccountUpdate) []AccountUpdate {
	out := make([]AccountUpdate, len(updates))
	for i, u := range updates {
		out[len(updates)-1-i] = u.Reverse()
	}
	return out
}
