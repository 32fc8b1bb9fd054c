package crypto

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// BitsToElement packs a big-endian byte string into a single BN254 scalar
// field element, reducing modulo the field order. Used to turn
// nonce/pub-key-hash/address/root byte strings into hash inputs (spec §3:
// "Rescue permutation ... Subtree roots are themselves produced by Rescue
// hashing of padded bit-strings").
func BitsToElement(b []byte) fr.Element {
	var e fr.Element
	e.SetBigInt(new(big.Int).SetBytes(b))
	return e
}

// AccountLeafHash hashes one account-tree leaf:
//
//	Rescue(nonce ‖ pub_key_hash ‖ address ‖ balanceRoot ‖ orderRoot)
//
// balanceRoot and orderRoot are themselves Rescue-hashed subtree roots,
// each mixed in alongside a zero padding element per spec §4.5 ("This
// two-level padded mixing is consensus-critical and MUST be preserved
// bit-for-bit").
func AccountLeafHash(nonce, pubKeyHash, address []byte, balanceRoot, orderRoot fr.Element) fr.Element {
	nonceElem := BitsToElement(nonce)
	pkhElem := BitsToElement(pubKeyHash)
	addrElem := BitsToElement(address)

	mixedBalance := Hash2(balanceRoot, fr.Element{})
	mixedOrder := Hash2(orderRoot, fr.Element{})

	return HashElements(nonceElem, pkhElem, addrElem, mixedBalance, mixedOrder)
}

// EmptyLeafHash is the hash assigned to an unallocated account-tree,
// balance-tree, or order-tree leaf (spec §3: "Empty leaves hash as the
// zero-field element").
func EmptyLeafHash() fr.Element { return ZeroElement() }

// BalanceLeafHash hashes a single balance leaf (a non-negative big integer
// amount) for inclusion in an account's balance subtree.
func BalanceLeafHash(amount *big.Int) fr.Element {
	var e fr.Element
	e.SetBigInt(amount)
	return HashElements(e)
}

// OrderLeafHash hashes a single order-slot leaf: (nonce, residue).
func OrderLeafHash(nonce uint64, residue *big.Int) fr.Element {
	var n fr.Element
	n.SetUint64(nonce)
	var r fr.Element
	r.SetBigInt(residue)
	return HashElements(n, r)
}
