package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals to and from decimal strings, the
// format used by the proof packing and by the ledger contracts.
type BigInt big.Int

// NewInt returns a new BigInt set to x.
func NewInt(x int64) *BigInt {
	return (*BigInt)(big.NewInt(x))
}

// BigIntFrom converts a *big.Int into a *BigInt. Nil is preserved.
func BigIntFrom(x *big.Int) *BigInt {
	if x == nil {
		return nil
	}
	return (*BigInt)(new(big.Int).Set(x))
}

// MathBigInt returns the *big.Int representation of i.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

func (i *BigInt) String() string {
	if i == nil {
		return "<nil>"
	}
	return i.MathBigInt().String()
}

// Bytes32 returns the big-endian 32 bytes representation of i.
func (i *BigInt) Bytes32() [32]byte {
	var b [32]byte
	i.MathBigInt().FillBytes(b[:])
	return b
}

// Equal returns true if both numbers are equal. It is also used by go-cmp.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return i == j
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}

// MarshalText returns the decimal representation of i.
func (i *BigInt) MarshalText() ([]byte, error) {
	return []byte(i.MathBigInt().String()), nil
}

// UnmarshalText accepts a decimal string or a 0x prefixed hexadecimal string.
func (i *BigInt) UnmarshalText(data []byte) error {
	s := string(data)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" {
		return fmt.Errorf("empty number")
	}
	if _, ok := i.MathBigInt().SetString(s, base); !ok {
		return fmt.Errorf("invalid number %q", string(data))
	}
	return nil
}

// MarshalCBOR encodes i as a CBOR text string.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.MathBigInt().String())
}

// UnmarshalCBOR decodes a CBOR text string into i.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var s string
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return i.UnmarshalText([]byte(s))
}
