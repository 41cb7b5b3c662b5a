package types

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"
)

func TestBigIntJSON(t *testing.T) {
	c := qt.New(t)
	bi := NewInt(1234567890)
	data, err := json.Marshal(map[string]*BigInt{"root": bi})
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `{"root":"1234567890"}`)

	var decoded map[string]*BigInt
	c.Assert(json.Unmarshal(data, &decoded), qt.IsNil)
	c.Assert(decoded["root"].Equal(bi), qt.IsTrue)

	// hex input is accepted, output is always decimal
	var hex BigInt
	c.Assert(json.Unmarshal([]byte(`"0xff"`), &hex), qt.IsNil)
	c.Assert(hex.String(), qt.Equals, "255")

	for _, bad := range []string{`""`, `"0x"`, `"12a"`, `12`} {
		var v BigInt
		c.Assert(json.Unmarshal([]byte(bad), &v), qt.IsNotNil, qt.Commentf("input %s", bad))
	}
}

func TestBigIntCBOR(t *testing.T) {
	c := qt.New(t)
	bi := BigIntFrom(new(big.Int).Lsh(big.NewInt(1), 200))
	data, err := cbor.Marshal(map[string]*BigInt{"nh": bi})
	c.Assert(err, qt.IsNil)

	var decoded map[string]*BigInt
	c.Assert(cbor.Unmarshal(data, &decoded), qt.IsNil)
	c.Assert(decoded["nh"].Equal(bi), qt.IsTrue)
}

func TestBigIntHelpers(t *testing.T) {
	c := qt.New(t)
	src := big.NewInt(42)
	bi := BigIntFrom(src)
	src.SetInt64(7)
	c.Assert(bi.MathBigInt().Int64(), qt.Equals, int64(42))
	c.Assert(BigIntFrom(nil), qt.IsNil)

	b := bi.Bytes32()
	c.Assert(b[31], qt.Equals, byte(42))
	c.Assert(b[0], qt.Equals, byte(0))

	var nilInt *BigInt
	c.Assert(nilInt.String(), qt.Equals, "<nil>")
	c.Assert(nilInt.Equal(nil), qt.IsTrue)
	c.Assert(nilInt.Equal(bi), qt.IsFalse)
	c.Assert(NewInt(42).Equal(bi), qt.IsTrue)
}
