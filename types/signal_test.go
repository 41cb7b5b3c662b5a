package types

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEncodeSignal(t *testing.T) {
	c := qt.New(t)

	encoded, err := EncodeSignal("Hello")
	c.Assert(err, qt.IsNil)
	c.Assert(string(encoded[:5]), qt.Equals, "Hello")
	for _, b := range encoded[5:] {
		c.Assert(b, qt.Equals, byte(0))
	}

	for _, text := range []string{"a", "Hello", "héllo wörld", strings.Repeat("x", SignalMaxLen)} {
		encoded, err := EncodeSignal(text)
		c.Assert(err, qt.IsNil)
		decoded, err := DecodeSignal(encoded)
		c.Assert(err, qt.IsNil)
		c.Assert(decoded, qt.Equals, text)
	}
}

func TestEncodeSignalMalformed(t *testing.T) {
	c := qt.New(t)

	for _, text := range []string{"", strings.Repeat("x", SignalMaxLen+1), "a\x00b", string([]byte{0xff, 0xfe})} {
		_, err := EncodeSignal(text)
		c.Assert(err, qt.ErrorIs, ErrMalformedSignal, qt.Commentf("text %q", text))
		c.Assert(KindOf(err), qt.Equals, KindMalformedSignal)
	}
}

func TestEncodeSignalZeroByte(t *testing.T) {
	c := qt.New(t)

	// a trailing zero byte is indistinguishable from the padding
	var padded [SignalEncodedLen]byte
	copy(padded[:], "ab\x00")
	decoded, err := DecodeSignal(padded)
	c.Assert(err, qt.IsNil)
	c.Assert(decoded, qt.Equals, "ab")

	for _, text := range []string{"ab\x00", "\x00ab", "a\x00b"} {
		_, err := EncodeSignal(text)
		c.Assert(err, qt.ErrorMatches, "malformed signal: contains a zero byte", qt.Commentf("text %q", text))
	}
}

func TestDecodeSignalMalformed(t *testing.T) {
	c := qt.New(t)

	var empty [SignalEncodedLen]byte
	_, err := DecodeSignal(empty)
	c.Assert(err, qt.ErrorIs, ErrMalformedSignal)

	var full [SignalEncodedLen]byte
	copy(full[:], strings.Repeat("y", SignalEncodedLen))
	_, err = DecodeSignal(full)
	c.Assert(err, qt.ErrorIs, ErrMalformedSignal)

	var gap [SignalEncodedLen]byte
	copy(gap[:], "ab")
	gap[5] = 'c'
	_, err = DecodeSignal(gap)
	c.Assert(err, qt.ErrorIs, ErrMalformedSignal)
}
