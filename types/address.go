package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddressLength is returned when an Address is constructed from a
// byte slice that is neither 20 (EVM) nor 32 (extended) bytes.
var ErrInvalidAddressLength = errors.New("types: address must be 20 or 32 bytes")

// Address is a byte string of exactly 20 (EVM-style) or 32 (extended) bytes.
// The underlying bytes are always big-endian / left-padded so that L1
// interop (ABI encoding, topic matching) sees the same byte order zkLink's
// contracts use.
type Address struct {
	b []byte
}

// NewAddress validates and wraps raw address bytes.
func NewAddress(b []byte) (Address, error) {
	switch len(b) {
	case 20, 32:
		out := make([]byte, len(b))
		copy(out, b)
		return Address{b: out}, nil
	default:
		return Address{}, fmt.Errorf("%w: got %d", ErrInvalidAddressLength, len(b))
	}
}

// MustAddress panics on invalid length; used for constants and tests.
func MustAddress(b []byte) Address {
	a, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns the raw address bytes (20 or 32).
func (a Address) Bytes() []byte { return a.b }

// Is32 reports whether this is the 32-byte extended form.
func (a Address) Is32() bool { return len(a.b) == 32 }

// Equal does a byte-exact comparison.
func (a Address) Equal(o Address) bool {
	if len(a.b) != len(o.b) {
		return false
	}
	for i := range a.b {
		if a.b[i] != o.b[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether every byte is zero.
func (a Address) IsZero() bool {
	for _, c := range a.b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (a Address) String() string {
	if len(a.b) == 0 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(a.b)
}

// MarshalJSON encodes the address as its "0x"-prefixed hex string, so
// Address round-trips through the replay log and any other JSON-persisted
// structure that embeds it.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON parses the "0x"-prefixed hex string produced by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "0x" || s == "" {
		*a = Address{}
		return nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("types: decode address hex: %w", err)
	}
	addr, err := NewAddress(b)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
