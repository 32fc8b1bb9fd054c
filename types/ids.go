// Package types defines the consensus-critical newtypes shared by the
// rollup op codec, the state engine, and the storage layer: chain/account/
// token identifiers, addresses, and the composed-key arithmetic used to
// index balances and order slots inside the account tree.
package types

import (
	"fmt"
)

// MaxTokenNumber bounds the token id space and is the multiplier used to
// compose a (sub_account_id, token_id) pair into a single tree index.
const MaxTokenNumber = 1 << 16

// MaxSlotNumber bounds the order-slot id space, used the same way as
// MaxTokenNumber for composing (sub_account_id, slot_id).
const MaxSlotNumber = 1 << 16

// GlobalAssetAccountID is the distinguished account whose balances mirror
// on-chain L1 custody per (chain, token).
const GlobalAssetAccountID AccountId = 0

// ChainId identifies an L1 chain zkLink settles to. 8 bits wide on the wire.
type ChainId uint8

// Valid reports whether the chain id fits the 8-bit consensus width.
func (c ChainId) Valid() bool { return true } // uint8 is already width-exact

func (c ChainId) String() string { return fmt.Sprintf("chain(%d)", uint8(c)) }

// SubAccountId identifies a sub-account within an Account. 8 bits wide.
type SubAccountId uint8

func (s SubAccountId) String() string { return fmt.Sprintf("sub(%d)", uint8(s)) }

// TokenId identifies a token. 16 bits wide on the wire, but the in-memory
// type is wider so composed keys (token + sub_account*MaxTokenNumber) don't
// overflow.
type TokenId uint32

// MaxRealTokenId is the largest token id representable in the 16-bit wire
// field used by most ops (Deposit, Transfer, Withdraw, ...).
const MaxRealTokenId = TokenId(1<<16) - 1

func (t TokenId) Valid() bool { return t <= MaxRealTokenId }

func (t TokenId) String() string { return fmt.Sprintf("token(%d)", uint32(t)) }

// AccountId identifies an account in the account tree. 32 bits wide.
type AccountId uint32

// MaxAccountID is the largest account id the tree depth can address.
const MaxAccountID = AccountId(1<<32) - 1

func (a AccountId) String() string { return fmt.Sprintf("account(%d)", uint32(a)) }

// SlotId identifies an order slot within a sub-account. 16 bits wide.
type SlotId uint32

func (s SlotId) String() string { return fmt.Sprintf("slot(%d)", uint32(s)) }

// BlockNumber is a rollup block number, monotonically increasing by 1 per
// applied RollupOpsBlock.
type BlockNumber uint32

func (b BlockNumber) String() string { return fmt.Sprintf("block(%d)", uint32(b)) }

// Nonce is a per-account or per-order-slot replay counter. 32 bits wide.
type Nonce uint32

// MaxNonce bounds TidyOrder nonces; OrderMatching replay MUST NOT push a
// slot's nonce past this value (spec open question, resolved in DESIGN.md).
const MaxNonce = Nonce(1<<32) - 1

func (n Nonce) String() string { return fmt.Sprintf("nonce(%d)", uint32(n)) }

// ComposedTokenKey composes a (sub_account_id, token_id) pair into the
// single integer used to index an account's balance map and, identically,
// the global asset account's per-(chain,token) balances.
//
// composed = token_id + sub_account_id * MAX_TOKEN_NUMBER
func ComposedTokenKey(sub SubAccountId, token TokenId) uint64 {
	return uint64(token) + uint64(sub)*MaxTokenNumber
}

// ComposedSlotKey composes a (sub_account_id, slot_id) pair for order-slot
// indexing, mirroring ComposedTokenKey.
func ComposedSlotKey(sub SubAccountId, slot SlotId) uint64 {
	return uint64(slot) + uint64(sub)*MaxSlotNumber
}

// DecomposeTokenKey inverts ComposedTokenKey, recovering the
// (sub_account_id, token_id) pair from a balance map key. Used when
// serializing an account's balances for persistence.
func DecomposeTokenKey(key uint64) (SubAccountId, TokenId) {
	return SubAccountId(key / MaxTokenNumber), TokenId(key % MaxTokenNumber)
}
