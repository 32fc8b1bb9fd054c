package state

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zklinkprotocol/recover-state-server/types"
)

// State is the authoritative in-memory rollup state: the account map plus
// the 3-level nested account tree (spec §3 "AccountTree"). It is owned by
// the replay driver; the prover reads a read-only snapshot (spec §5,
// "Shared resources").
type State struct {
	Accounts map[types.AccountId]*Account

	tree         *SparseMerkleTree
	balanceTrees map[types.AccountId]*SparseMerkleTree
	orderTrees   map[types.AccountId]*SparseMerkleTree

	FeeAccountID  types.AccountId
	nextFreeID    types.AccountId
}

// NewState builds an empty state with the global asset account pre-seeded
// at id 0 (spec glossary: "Global asset account").
func NewState() *State {
	s := &State{
		Accounts:     make(map[types.AccountId]*Account),
		tree:         NewSparseMerkleTree(AccountTreeDepth),
		balanceTrees: make(map[types.AccountId]*SparseMerkleTree),
		orderTrees:   make(map[types.AccountId]*SparseMerkleTree),
		nextFreeID:   types.GlobalAssetAccountID + 1,
	}
	s.Accounts[types.GlobalAssetAccountID] = NewAccount(types.GlobalAssetAccountID, types.Address{})
	s.recomputeLeaf(types.GlobalAssetAccountID)
	return s
}

// GetFreeAccountID allocates the next unused account id (spec §4.4,
// "Deposit ... create account lazily with an auto-allocated id
// (get_free_account_id)").
func (s *State) GetFreeAccountID() types.AccountId {
	id := s.nextFreeID
	s.nextFreeID++
	return id
}

// GetOrCreateByAddress finds the account owning addr, or creates one at a
// freshly allocated id if none exists yet.
func (s *State) GetOrCreateByAddress(addr types.Address) (*Account, []AccountUpdate) {
	for _, acc := range s.Accounts {
		if acc.Address.Equal(addr) {
			return acc, nil
		}
	}
	id := s.GetFreeAccountID()
	acc := NewAccount(id, addr)
	s.Accounts[id] = acc
	s.recomputeLeaf(id)
	update := AccountUpdate{Kind: UpdateCreate, AccountID: id, Address: addr, Nonce: 0}
	return acc, []AccountUpdate{update}
}

// Get returns the account at id, or nil if it does not exist.
func (s *State) Get(id types.AccountId) *Account {
	return s.Accounts[id]
}

// balanceTree lazily allocates the per-account balance subtree.
func (s *State) balanceTree(id types.AccountId) *SparseMerkleTree {
	t, ok := s.balanceTrees[id]
	if !ok {
		t = NewSparseMerkleTree(BalanceTreeDepth)
		s.balanceTrees[id] = t
	}
	return t
}

// orderTree lazily allocates the per-account order subtree.
func (s *State) orderTree(id types.AccountId) *SparseMerkleTree {
	t, ok := s.orderTrees[id]
	if !ok {
		t = NewSparseMerkleTree(OrderTreeDepth)
		s.orderTrees[id] = t
	}
	return t
}

// recomputeLeaf re-derives and re-inserts the account-tree leaf for id
// from its current balance/order subtree roots and account fields. Called
// after any mutation to the account so RootHash() reflects it.
func (s *State) recomputeLeaf(id types.AccountId) {
	acc, ok := s.Accounts[id]
	if !ok {
		s.tree.Insert(uint64(id), EmptyAccountLeaf())
		return
	}
	leaf := accountLeafFor(acc, s.balanceTree(id).RootHash(), s.orderTree(id).RootHash())
	s.tree.Insert(uint64(id), leaf)
}

// RootHash returns the current account-tree root.
func (s *State) RootHash() [32]byte {
	return fieldToBytes32(s.tree.RootHash())
}

// AccountMerklePath returns the account tree's sibling path for id, for use
// as exit-proof witness data (spec §4.6, "an account-tree Merkle path").
func (s *State) AccountMerklePath(id types.AccountId) []fr.Element {
	return s.tree.MerklePath(uint64(id))
}

// BalanceMerklePath returns id's balance subtree's sibling path for the
// composed (sub, token) leaf, for exit-proof witness data (spec §4.6, "a
// balance-tree Merkle path").
func (s *State) BalanceMerklePath(id types.AccountId, sub types.SubAccountId, token types.TokenId) []fr.Element {
	return s.balanceTree(id).MerklePath(types.ComposedTokenKey(sub, token))
}

// BalanceRoot returns id's balance subtree root, the value folded into the
// account leaf alongside the order subtree root.
func (s *State) BalanceRoot(id types.AccountId) fr.Element {
	return s.balanceTree(id).RootHash()
}

// OrderRoot returns id's order subtree root.
func (s *State) OrderRoot(id types.AccountId) fr.Element {
	return s.orderTree(id).RootHash()
}

// Apply mutates the account map and tree leaves to reflect a single
// AccountUpdate, in the direction it names (forward or, if produced by
// Reverse(), backward). Handlers call this once per emitted update so the
// replay log and the live tree never diverge.
func (s *State) Apply(u AccountUpdate) error {
	switch u.Kind {
	case UpdateCreate:
		if _, exists := s.Accounts[u.AccountID]; exists {
			return fmt.Errorf("state: account %s already exists", u.AccountID)
		}
		s.Accounts[u.AccountID] = NewAccount(u.AccountID, u.Address)
		s.Accounts[u.AccountID].Nonce = u.Nonce
		if u.AccountID >= s.nextFreeID {
			s.nextFreeID = u.AccountID + 1
		}
	case UpdateDelete:
		delete(s.Accounts, u.AccountID)
		delete(s.balanceTrees, u.AccountID)
		delete(s.orderTrees, u.AccountID)
	case UpdateBalance:
		acc, ok := s.Accounts[u.AccountID]
		if !ok {
			return fmt.Errorf("state: balance update on missing account %s", u.AccountID)
		}
		key := types.ComposedTokenKey(u.Sub, u.Token)
		acc.Balances[key] = new(big.Int).Set(u.NewValue)
		s.balanceTree(u.AccountID).Insert(key, leafForBalance(u.NewValue))
	case UpdateChangePubKeyHash:
		acc, ok := s.Accounts[u.AccountID]
		if !ok {
			return fmt.Errorf("state: pkh update on missing account %s", u.AccountID)
		}
		acc.PubKeyHash = u.NewPubKeyHash
		acc.Nonce = u.NewAccNonce
	case UpdateTidyOrder:
		acc, ok := s.Accounts[u.AccountID]
		if !ok {
			return fmt.Errorf("state: order update on missing account %s", u.AccountID)
		}
		key := types.ComposedSlotKey(u.Sub, u.Slot)
		acc.Orders[key] = u.NewOrder
		s.orderTree(u.AccountID).Insert(key, leafForOrder(u.NewOrder))
	default:
		return fmt.Errorf("state: unknown update kind %d", u.Kind)
	}
	s.recomputeLeaf(u.AccountID)
	return nil
}

// Rebuild re-derives every balance/order subtree and account-tree leaf from
// the current Accounts map, and advances nextFreeID past the highest
// account id present. Used after bulk-loading accounts from a persisted
// snapshot, where balances/orders were written directly into the account
// map without going through Apply.
func (s *State) Rebuild() {
	for id, acc := range s.Accounts {
		for key, bal := range acc.Balances {
			s.balanceTree(id).Insert(key, leafForBalance(bal))
		}
		for key, ord := range acc.Orders {
			s.orderTree(id).Insert(key, leafForOrder(ord))
		}
		s.recomputeLeaf(id)
		if id >= s.nextFreeID {
			s.nextFreeID = id + 1
		}
	}
}

// ApplyAll applies updates in order, stopping at the first error.
func (s *State) ApplyAll(updates []AccountUpdate) error {
	for _, u := range updates {
		if err := s.Apply(u); err != nil {
			return err
		}
	}
	return nil
}
