package crypto

import "golang.org/x/crypto/sha3"

// Keccak256 calculates the Keccak-256 hash of the given data, matching the
// hash L1 logs and calldata are addressed by (spec §6, "L1 event topics").
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}
