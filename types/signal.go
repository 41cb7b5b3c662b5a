package types

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// EncodeSignal packs a text message into its fixed width representation: the
// UTF-8 bytes followed by zero padding. The last byte is always zero, so the
// text can be at most SignalMaxLen bytes long. The first zero byte ends the
// text when decoding, so text containing U+0000 is rejected: it would not
// decode back to itself.
func EncodeSignal(text string) ([SignalEncodedLen]byte, error) {
	var out [SignalEncodedLen]byte
	switch {
	case len(text) == 0:
		return out, fmt.Errorf("%w: empty signal", ErrMalformedSignal)
	case len(text) > SignalMaxLen:
		return out, fmt.Errorf("%w: %d bytes, maximum is %d", ErrMalformedSignal, len(text), SignalMaxLen)
	case !utf8.ValidString(text):
		return out, fmt.Errorf("%w: invalid UTF-8", ErrMalformedSignal)
	case bytes.IndexByte([]byte(text), 0) >= 0:
		return out, fmt.Errorf("%w: contains a zero byte", ErrMalformedSignal)
	}
	copy(out[:], text)
	return out, nil
}

// DecodeSignal is the inverse of EncodeSignal.
func DecodeSignal(encoded [SignalEncodedLen]byte) (string, error) {
	if encoded[SignalEncodedLen-1] != 0 {
		return "", fmt.Errorf("%w: missing zero terminator", ErrMalformedSignal)
	}
	end := bytes.IndexByte(encoded[:], 0)
	if end == 0 {
		return "", fmt.Errorf("%w: empty signal", ErrMalformedSignal)
	}
	if !utf8.Valid(encoded[:end]) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrMalformedSignal)
	}
	for _, b := range encoded[end:] {
		if b != 0 {
			return "", fmt.Errorf("%w: non zero padding", ErrMalformedSignal)
		}
	}
	return string(encoded[:end]), nil
}
