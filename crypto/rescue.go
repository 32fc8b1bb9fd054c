// Package crypto implements the algebraic hash used by the account tree:
// a Rescue permutation over the BN254 scalar field. The round-constant /
// MDS-matrix shape mirrors the sponge construction tested against in the
// retrieved corpus's zkvm/poseidon_test.go (T=3 state, precomputed round
// constants and MDS matrix); the permutation itself is Rescue, not
// Poseidon, per spec §3/§4.5 ("Rescue permutation over a BN256 field").
package crypto

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// rescueRounds is the number of full Rescue rounds (forward S-box then
// inverse S-box alternating), chosen to match the security margin the
// corpus's algebraic-hash tests exercise for a 3-element state.
const rescueRounds = 12

// stateWidth is the width of the Rescue permutation state: one capacity
// element plus two rate elements, enough to absorb two field elements per
// squeeze, matching the account/subtree hashing calls in state.TreeHash.
const stateWidth = 3

// alpha is the forward S-box exponent. 5 is coprime to (p-1) for the BN254
// scalar field, same choice the corpus's algebraic hash primitives use.
const alpha = 5

var roundConstants [][stateWidth]fr.Element
var mds [stateWidth][stateWidth]fr.Element

func init() {
	roundConstants = make([][stateWidth]fr.Element, 2*rescueRounds)
	for r := range roundConstants {
		for i := 0; i < stateWidth; i++ {
			roundConstants[r][i] = deriveConstant(uint64(r), uint64(i))
		}
	}
	for i := 0; i < stateWidth; i++ {
		for j := 0; j < stateWidth; j++ {
			// A Cauchy-style MDS matrix: 1/(i+j+1), which is invertible for
			// any small state width over a large prime field.
			var denom fr.Element
			denom.SetUint64(uint64(i + j + 1))
			mds[i][j].Inverse(&denom)
		}
	}
}

// deriveConstant deterministically derives a round constant from a fixed
// domain-separated seed, so the permutation never depends on package init
// order or randomness (consensus-critical: must be bit-identical across
// every replay, per spec invariant "Tree-root determinism").
func deriveConstant(round, index uint64) fr.Element {
	var seed fr.Element
	seed.SetUint64(0x5A5A5A5A<<32 | 0xC001D00D)
	var r, idx fr.Element
	r.SetUint64(round + 1)
	idx.SetUint64(index + 1)
	var out fr.Element
	out.Mul(&seed, &r)
	out.Mul(&out, &idx)
	out.Square(&out)
	return out
}

// invAlphaExp is 1/alpha mod (r-1), the exponent for the Rescue inverse
// S-box, computed once from the field's modulus.
var invAlphaExp *big.Int

func init() {
	modulus := fr.Modulus()
	order := new(big.Int).Sub(modulus, big.NewInt(1))
	invAlphaExp = new(big.Int).ModInverse(big.NewInt(alpha), order)
}

// sbox raises x to the alpha power in place.
func sbox(x *fr.Element) {
	var sq, quad fr.Element
	sq.Square(x)
	quad.Square(&sq)
	x.Mul(&quad, x)
}

// invSbox raises x to the 1/alpha power (the Rescue inverse S-box) via the
// field's general exponentiation.
func invSbox(x *fr.Element) {
	var tmp fr.Element
	tmp.Exp(*x, invAlphaExp)
	*x = tmp
}

// permute runs the full Rescue permutation over the 3-element state.
func permute(state *[stateWidth]fr.Element) {
	for r := 0; r < rescueRounds; r++ {
		for i := range state {
			sbox(&state[i])
		}
		mixAddRound(state, 2*r)
		for i := range state {
			invSbox(&state[i])
		}
		mixAddRound(state, 2*r+1)
	}
}

func mixAddRound(state *[stateWidth]fr.Element, round int) {
	var next [stateWidth]fr.Element
	for i := 0; i < stateWidth; i++ {
		var acc fr.Element
		for j := 0; j < stateWidth; j++ {
			var term fr.Element
			term.Mul(&mds[i][j], &state[j])
			acc.Add(&acc, &term)
		}
		acc.Add(&acc, &roundConstants[round][i])
		next[i] = acc
	}
	*state = next
}

// RescueRounds, RescueStateWidth and RescueAlpha expose the permutation's
// shape constants so the in-circuit arithmetization (prover/rescue_circuit.go)
// can walk exactly the same round structure as permute() below.
const (
	RescueRounds     = rescueRounds
	RescueStateWidth = stateWidth
	RescueAlpha      = alpha
)

// RescueRoundConstant returns round constant (round, index) as a big.Int,
// for embedding as an in-circuit constant.
func RescueRoundConstant(round, index int) *big.Int {
	var b big.Int
	roundConstants[round][index].BigInt(&b)
	return &b
}

// RescueMDSEntry returns MDS[i][j] as a big.Int, for embedding as an
// in-circuit constant.
func RescueMDSEntry(i, j int) *big.Int {
	var b big.Int
	mds[i][j].BigInt(&b)
	return &b
}

// RescueInvAlphaExponent returns the exponent 1/alpha mod (r-1) used by the
// inverse S-box, for the in-circuit hint that computes it off-circuit (the
// circuit itself only checks the round-trip y^alpha == x).
func RescueInvAlphaExponent() *big.Int {
	return new(big.Int).Set(invAlphaExp)
}

// Hash2 is the 2-to-1 compression function used to build the account and
// subtree Merkle trees: Rescue(left, right) -> field element, with the
// capacity element initialized to zero.
func Hash2(left, right fr.Element) fr.Element {
	state := [stateWidth]fr.Element{{}, left, right}
	permute(&state)
	return state[0]
}

// HashElements absorbs an arbitrary number of field elements (used for
// account-leaf hashing, which packs nonce/pkh/address/subtree-roots into
// more than two elements) and squeezes one output element.
func HashElements(elems ...fr.Element) fr.Element {
	var state [stateWidth]fr.Element
	rate := stateWidth - 1
	for i := 0; i < len(elems); i += rate {
		end := i + rate
		if end > len(elems) {
			end = len(elems)
		}
		for j, e := range elems[i:end] {
			state[1+j].Add(&state[1+j], &e)
		}
		permute(&state)
	}
	return state[0]
}

// ZeroElement is the hash of an empty leaf (spec §3: "Empty leaves hash as
// the zero-field element").
func ZeroElement() fr.Element {
	return fr.Element{}
}
