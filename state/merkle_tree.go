// Package state implements the in-memory account map, the nested sparse
// Merkle account tree, account update reversal, and the per-op state
// transition handlers (spec §3, §4.4, §4.5).
package state

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zklinkprotocol/recover-state-server/crypto"
)

// Fixed tree depths. These are consensus-critical constants: changing them
// changes every hash in the tree.
const (
	AccountTreeDepth = 24
	BalanceTreeDepth = 11
	OrderTreeDepth   = 11
)

// SparseMerkleTree is a depth-D sparse Merkle tree over BN254 field
// elements. It stores only non-empty leaves; the hash of an all-empty
// subtree at any level is computed once and memoized in emptyHashes, per
// spec §4.5 ("stores only non-empty leaves (hash-consed empty nodes
// computed once per level)").
type SparseMerkleTree struct {
	depth       int
	leaves      map[uint64]fr.Element
	dirty       map[uint64]bool // node keys (level<<56 | index) needing recompute
	nodeCache   map[uint64]fr.Element
	emptyHashes []fr.Element // emptyHashes[0] = leaf level, emptyHashes[depth] = root of empty tree
}

// NewSparseMerkleTree builds an empty tree of the given depth.
func NewSparseMerkleTree(depth int) *SparseMerkleTree {
	t := &SparseMerkleTree{
		depth:     depth,
		leaves:    make(map[uint64]fr.Element),
		dirty:     make(map[uint64]bool),
		nodeCache: make(map[uint64]fr.Element),
	}
	t.emptyHashes = make([]fr.Element, depth+1)
	t.emptyHashes[0] = crypto.EmptyLeafHash()
	for i := 1; i <= depth; i++ {
		t.emptyHashes[i] = crypto.Hash2(t.emptyHashes[i-1], t.emptyHashes[i-1])
	}
	return t
}

func nodeKey(level int, index uint64) uint64 {
	return (uint64(level) << 56) | index
}

// Insert sets the leaf at idx and marks the path to the root dirty.
func (t *SparseMerkleTree) Insert(idx uint64, leaf fr.Element) {
	if leaf == (fr.Element{}) {
		delete(t.leaves, idx)
	} else {
		t.leaves[idx] = leaf
	}
	cur := idx
	for level := 0; level <= t.depth; level++ {
		t.dirty[nodeKey(level, cur)] = true
		cur >>= 1
	}
}

// Get returns the current leaf hash at idx (the empty-leaf hash if unset).
func (t *SparseMerkleTree) Get(idx uint64) fr.Element {
	if v, ok := t.leaves[idx]; ok {
		return v
	}
	return t.emptyHashes[0]
}

// nodeHash returns (and memoizes) the hash of the node at (level, index),
// recomputing only when it or a descendant was marked dirty.
func (t *SparseMerkleTree) nodeHash(level int, index uint64) fr.Element {
	key := nodeKey(level, index)
	if !t.dirty[key] {
		if v, ok := t.nodeCache[key]; ok {
			return v
		}
		return t.emptyHashes[level]
	}
	var h fr.Element
	if level == 0 {
		h = t.Get(index)
	} else {
		left := t.nodeHash(level-1, index*2)
		right := t.nodeHash(level-1, index*2+1)
		h = crypto.Hash2(left, right)
	}
	t.nodeCache[key] = h
	delete(t.dirty, key)
	return h
}

// RootHash lazily recomputes the root from dirty-marked nodes only (spec
// §4.5: "root_hash() — lazy; recomputed from dirty-marked nodes only").
func (t *SparseMerkleTree) RootHash() fr.Element {
	return t.nodeHash(t.depth, 0)
}

// MerklePath returns the sibling hash at each level from leaf to root, for
// building an exit-proof witness (spec §4.5: "merkle_path(idx)").
func (t *SparseMerkleTree) MerklePath(idx uint64) []fr.Element {
	path := make([]fr.Element, t.depth)
	cur := idx
	for level := 0; level < t.depth; level++ {
		sibling := cur ^ 1
		path[level] = t.nodeHash(level, sibling)
		cur >>= 1
	}
	return path
}

// Depth returns the tree's fixed depth.
func (t *SparseMerkleTree) Depth() int { return t.depth }
