package types

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackedFloatRoundTrip(t *testing.T) {
	cases := []PackedFloatParams{PackedAmountParams, PackedFeeParams}
	for _, p := range cases {
		maxMantissa := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(p.MantissaBits)), big.NewInt(1))
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 200; i++ {
			mantissa := new(big.Int).Rand(rng, maxMantissa)
			exponent := rng.Intn(1 << uint(p.ExponentBits))
			value := new(big.Int).Mul(mantissa, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exponent)), nil))

			packed, err := p.Pack(value)
			if err != nil {
				// Overflowed representable mantissa after stripping zeros;
				// a legal outcome, skip.
				continue
			}
			unpacked := p.Unpack(packed)
			require.Equal(t, 0, unpacked.Cmp(value), "round trip mismatch for %s", value)
		}
	}
}

func TestPackedFloatRejectsNonRoundTrip(t *testing.T) {
	// 2^40 exceeds both packed shapes' representable range entirely.
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	_, err := PackedAmountParams.Pack(huge)
	require.ErrorIs(t, err, ErrPackedRoundTrip)
}

func TestComposedTokenKeyRoundTrip(t *testing.T) {
	for sub := 0; sub < 4; sub++ {
		for token := 0; token < 4; token++ {
			key := ComposedTokenKey(SubAccountId(sub), TokenId(token))
			gotSub, gotToken := DecomposeTokenKey(key)
			require.Equal(t, SubAccountId(sub), gotSub)
			require.Equal(t, TokenId(token), gotToken)
		}
	}
}

func TestAddressValidation(t *testing.T) {
	_, err := NewAddress(make([]byte, 19))
	require.ErrorIs(t, err, ErrInvalidAddressLength)

	a20, err := NewAddress(make([]byte, 20))
	require.NoError(t, err)
	require.False(t, a20.Is32())

	a32, err := NewAddress(make([]byte, 32))
	require.NoError(t, err)
	require.True(t, a32.Is32())

	require.True(t, a20.IsZero())
	require.False(t, a20.Equal(a32))
}
