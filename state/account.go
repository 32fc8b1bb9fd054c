package state

import (
	"math/big"

	"github.com/zklinkprotocol/recover-state-server/types"
)

// Account is the tuple (address, pub_key_hash, nonce, balances, order_slots)
// from spec §3. balances and order_slots are keyed by the composed
// (sub_account_id, token_id)/(sub_account_id, slot_id) integer so lookups
// match the tree index used for hashing.
type Account struct {
	ID         types.AccountId
	Address    types.Address
	PubKeyHash [20]byte
	Nonce      types.Nonce

	Balances map[uint64]*big.Int
	Orders   map[uint64]TidyOrder
}

// TidyOrder is the per-slot open-order residue tracked for OrderMatching
// (spec glossary: "TidyOrder").
type TidyOrder struct {
	Nonce   types.Nonce
	Residue *big.Int
}

// NewAccount creates an empty account at the given id/address.
func NewAccount(id types.AccountId, addr types.Address) *Account {
	return &Account{
		ID:       id,
		Address:  addr,
		Balances: make(map[uint64]*big.Int),
		Orders:   make(map[uint64]TidyOrder),
	}
}

// Clone deep-copies the account so handlers can mutate a working copy and
// diff it for AccountUpdate emission.
func (a *Account) Clone() *Account {
	c := &Account{
		ID:         a.ID,
		Address:    a.Address,
		PubKeyHash: a.PubKeyHash,
		Nonce:      a.Nonce,
		Balances:   make(map[uint64]*big.Int, len(a.Balances)),
		Orders:     make(map[uint64]TidyOrder, len(a.Orders)),
	}
	for k, v := range a.Balances {
		c.Balances[k] = new(big.Int).Set(v)
	}
	for k, v := range a.Orders {
		c.Orders[k] = TidyOrder{Nonce: v.Nonce, Residue: new(big.Int).Set(v.Residue)}
	}
	return c
}

// Balance returns the balance at the composed key, or zero if unset.
func (a *Account) Balance(sub types.SubAccountId, token types.TokenId) *big.Int {
	key := types.ComposedTokenKey(sub, token)
	if v, ok := a.Balances[key]; ok {
		return v
	}
	return big.NewInt(0)
}

// AddBalance adds delta (may be negative) to the composed balance,
// creating the entry if needed.
func (a *Account) AddBalance(sub types.SubAccountId, token types.TokenId, delta *big.Int) {
	key := types.ComposedTokenKey(sub, token)
	cur, ok := a.Balances[key]
	if !ok {
		cur = big.NewInt(0)
	}
	a.Balances[key] = new(big.Int).Add(cur, delta)
}

// Order returns the order slot at the composed key, or a zero-valued one.
func (a *Account) Order(sub types.SubAccountId, slot types.SlotId) TidyOrder {
	key := types.ComposedSlotKey(sub, slot)
	if v, ok := a.Orders[key]; ok {
		return v
	}
	return TidyOrder{Residue: big.NewInt(0)}
}

// SetOrder writes the order slot at the composed key.
func (a *Account) SetOrder(sub types.SubAccountId, slot types.SlotId, order TidyOrder) {
	a.Orders[types.ComposedSlotKey(sub, slot)] = order
}
