package state

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/zklinkprotocol/recover-state-server/crypto"
)

// accountLeafFor computes the account-tree leaf hash for acc given its
// balance and order subtree roots, per spec §3/§4.5.
func accountLeafFor(acc *Account, balanceRoot, orderRoot fr.Element) fr.Element {
	nonceBytes := make([]byte, 4)
	for i := 0; i < 4; i++ {
		nonceBytes[3-i] = byte(uint32(acc.Nonce) >> (8 * i))
	}
	return crypto.AccountLeafHash(nonceBytes, acc.PubKeyHash[:], acc.Address.Bytes(), balanceRoot, orderRoot)
}

// EmptyAccountLeaf is the leaf hash of an unallocated account slot.
func EmptyAccountLeaf() fr.Element {
	return crypto.EmptyLeafHash()
}

func leafForBalance(v *big.Int) fr.Element {
	return crypto.BalanceLeafHash(v)
}

func leafForOrder(o TidyOrder) fr.Element {
	return crypto.OrderLeafHash(uint64(o.Nonce), o.Residue)
}

func fieldToBytes32(e fr.Element) [32]byte {
	return e.Bytes()
}
