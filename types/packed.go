package types

import (
	"errors"
	"math/big"
)

// ErrPackedRoundTrip is returned when a packed amount/fee does not survive
// an unpack/repack round trip; the op codec treats this as fatal decode
// failure (spec §4.3: "the decoder MUST reject values whose pack/unpack is
// not a round-trip").
var ErrPackedRoundTrip = errors.New("types: packed value is not a round-trip encoding")

// PackedFloatParams describes one of the two on-wire packed-float shapes
// used by the op codec: packed amounts (5 bytes: 5 exponent bits, 35
// mantissa bits) and packed fees (2 bytes: 5 exponent bits, 11 mantissa
// bits). Both use base-10 exponents, matching zkLink pubdata layout.
type PackedFloatParams struct {
	ExponentBits int
	MantissaBits int
}

// PackedAmountParams is the 5-byte packed-amount shape (40 bits total).
var PackedAmountParams = PackedFloatParams{ExponentBits: 5, MantissaBits: 35}

// PackedFeeParams is the 2-byte packed-fee shape (16 bits total).
var PackedFeeParams = PackedFloatParams{ExponentBits: 5, MantissaBits: 11}

var ten = big.NewInt(10)

// Unpack decodes a big-endian bit string (MSB-first: exponent then
// mantissa) into its represented value: mantissa * 10^exponent.
func (p PackedFloatParams) Unpack(raw *big.Int) *big.Int {
	totalBits := p.ExponentBits + p.MantissaBits
	mantissaMask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(p.MantissaBits)), big.NewInt(1))
	mantissa := new(big.Int).And(raw, mantissaMask)
	exponent := new(big.Int).Rsh(raw, uint(p.MantissaBits))
	exponent.And(exponent, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(p.ExponentBits)), big.NewInt(1)))
	_ = totalBits
	return new(big.Int).Mul(mantissa, new(big.Int).Exp(ten, exponent, nil))
}

// Pack encodes value as the smallest-loss mantissa*10^exponent
// representation it can, returning the packed bit string. Returns an error
// if value cannot be represented without loss (mantissa overflow after
// stripping all representable trailing decimal zeros).
func (p PackedFloatParams) Pack(value *big.Int) (*big.Int, error) {
	maxMantissa := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(p.MantissaBits)), big.NewInt(1))
	maxExponent := int64(1)<<uint(p.ExponentBits) - 1

	mantissa := new(big.Int).Set(value)
	exponent := int64(0)
	for exponent < maxExponent {
		q, r := new(big.Int).QuoRem(mantissa, ten, new(big.Int))
		if r.Sign() != 0 {
			break
		}
		mantissa = q
		exponent++
	}
	if mantissa.Cmp(maxMantissa) > 0 {
		return nil, ErrPackedRoundTrip
	}

	packed := new(big.Int).Lsh(big.NewInt(exponent), uint(p.MantissaBits))
	packed.Or(packed, mantissa)

	if p.Unpack(packed).Cmp(value) != 0 {
		return nil, ErrPackedRoundTrip
	}
	return packed, nil
}

// PackBytes packs value into a big-endian byte string of the given width
// (2 for fees, 5 for amounts).
func (p PackedFloatParams) PackBytes(value *big.Int, width int) ([]byte, error) {
	packed, err := p.Pack(value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, width)
	packed.FillBytes(out)
	return out, nil
}

// UnpackBytes reads a big-endian byte string and returns the represented
// value, verifying the round trip.
func (p PackedFloatParams) UnpackBytes(raw []byte) (*big.Int, error) {
	v := new(big.Int).SetBytes(raw)
	value := p.Unpack(v)
	repacked, err := p.Pack(value)
	if err != nil || repacked.Cmp(v) != 0 {
		return nil, ErrPackedRoundTrip
	}
	return value, nil
}
