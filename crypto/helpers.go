package crypto

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/anonsignal/types"
)

const SerializedFieldSize = 32 // bytes

// FieldModulus is the BN254 scalar field, where every hash, commitment and
// root of the protocol lives.
var FieldModulus = fr.Modulus()

// BigIntToFieldBytes transforms the input into the field and returns its 32
// bytes big-endian representation, padded with zeros at the beginning, which
// is the layout the MiMC hash consumes.
func BigIntToFieldBytes(input *big.Int) []byte {
	hash := BigToFF(FieldModulus, input).Bytes()
	for len(hash) < SerializedFieldSize {
		hash = append([]byte{0}, hash...)
	}
	return hash
}

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses the curve scalar field to represent the provided number.
func BigToFF(baseField, iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(baseField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, baseField)
}

// HashToField returns keccak256(data) shifted right by 8 bits, so the result
// always fits in the scalar field.
func HashToField(data []byte) *big.Int {
	h := new(big.Int).SetBytes(ethcrypto.Keccak256(data))
	return h.Rsh(h, 8)
}

// SignalHash returns the field element bound to an encoded signal.
func SignalHash(encoded [types.SignalEncodedLen]byte) *big.Int {
	return HashToField(encoded[:])
}

// ExternalNullifier maps a scope identifier (for example a round name) into
// the field.
func ExternalNullifier(scope string) *big.Int {
	return HashToField([]byte(scope))
}
