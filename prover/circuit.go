// Package prover implements the Exit Prover Pool (spec §4.6): a durable
// task queue of exit-proof requests, a worker pool that claims and
// completes them, and the PLONK circuit the proofs are generated against.
// The circuit is deliberately treated as an opaque primitive per spec §1 —
// callers only touch its witness-assignment and Prove surface — but its
// internal leaf/Merkle-path hashing arithmetizes the same Rescue
// permutation (rescue_circuit.go) the off-circuit account tree uses
// (crypto/rescue.go, state/merkle_tree.go), so the witness and the circuit
// agree on every root and leaf hash bit-for-bit.
package prover

import (
	"github.com/consensys/gnark/frontend"

	"github.com/zklinkprotocol/recover-state-server/state"
)

// ZkLinkExitCircuit proves that an account's balance for one (sub_account,
// token) pair is included under a committed account-tree root, and binds
// the claimed exit amount and recipient data into the public
// pub_data_commitment the L1 exodus-exit call checks (spec §4.6: "its
// public input is the pub_data_commitment").
//
// MaxChainNum parameterises the circuit (spec §4.6: "ZkLinkExitCircuit
// parameterised by max_chain_num") by bounding how many global-asset-account
// sub-ledgers the witness may reference; it does not appear as a circuit
// field, only as a build-time constant threading into NewCircuit.
type ZkLinkExitCircuit struct {
	// Public inputs.
	RootHash          frontend.Variable `gnark:",public"`
	PubDataCommitment frontend.Variable `gnark:",public"`

	// Private witness: leaf contents.
	AccountID    frontend.Variable
	SubAccountID frontend.Variable
	Nonce        frontend.Variable
	PubKeyHash   frontend.Variable
	Address      frontend.Variable
	BalanceRoot  frontend.Variable
	OrderRoot    frontend.Variable

	TokenID    frontend.Variable
	Balance    frontend.Variable
	ExitAmount frontend.Variable
	ChainID    frontend.Variable
	L1Token    frontend.Variable

	// Private witness: Merkle co-paths, leaf to root.
	BalancePath [state.BalanceTreeDepth]frontend.Variable
	BalanceDir  [state.BalanceTreeDepth]frontend.Variable
	AccountPath [state.AccountTreeDepth]frontend.Variable
	AccountDir  [state.AccountTreeDepth]frontend.Variable
}

// NewCircuit returns a zero-valued circuit of the fixed tree depths the
// state engine uses; maxChainNum is accepted for interface parity with the
// spec's described parameterisation but does not change the field layout
// since the chain id already fits in one circuit variable.
func NewCircuit(maxChainNum int) *ZkLinkExitCircuit {
	_ = maxChainNum
	return &ZkLinkExitCircuit{}
}

// Define implements frontend.Circuit: it re-derives the balance-leaf hash
// from Balance, walks BalancePath to the account's balance-subtree root,
// re-derives the account leaf from (Nonce, PubKeyHash, Address,
// BalanceRoot, OrderRoot), walks AccountPath to RootHash, and binds the
// exit parameters into PubDataCommitment. Every hash here is the Rescue
// permutation from rescue_circuit.go, matching crypto.AccountLeafHash,
// crypto.BalanceLeafHash and crypto.Hash2 off-circuit field for field.
func (c *ZkLinkExitCircuit) Define(api frontend.API) error {
	balanceLeaf := rescueHashElements(api, c.Balance)
	balanceRoot := merkleWalk(api, balanceLeaf, c.BalancePath[:], c.BalanceDir[:])
	api.AssertIsEqual(balanceRoot, c.BalanceRoot)

	mixedBalance := rescueHash2(api, c.BalanceRoot, frontend.Variable(0))
	mixedOrder := rescueHash2(api, c.OrderRoot, frontend.Variable(0))
	accountLeaf := rescueHashElements(api, c.Nonce, c.PubKeyHash, c.Address, mixedBalance, mixedOrder)

	accountRoot := merkleWalk(api, accountLeaf, c.AccountPath[:], c.AccountDir[:])
	api.AssertIsEqual(accountRoot, c.RootHash)

	// ExitAmount must not exceed the witnessed balance.
	api.AssertIsLessOrEqual(c.ExitAmount, c.Balance)

	commitment := rescueHashElements(api, c.AccountID, c.SubAccountID, c.TokenID, c.ChainID, c.L1Token, c.ExitAmount)
	api.AssertIsEqual(commitment, c.PubDataCommitment)

	return nil
}

// merkleWalk folds leaf up through len(path) levels, hashing with the
// sibling on the side dir[i] selects (1 = leaf is the left child, sibling
// goes on the right), matching state.SparseMerkleTree's left/right pairing.
func merkleWalk(api frontend.API, leaf frontend.Variable, path, dir []frontend.Variable) frontend.Variable {
	cur := leaf
	for i := range path {
		left := api.Select(dir[i], cur, path[i])
		right := api.Select(dir[i], path[i], cur)
		cur = rescueHash2(api, left, right)
	}
	return cur
}
