// Package poseidon provides the domain separated Poseidon hash the identity
// secrets are derived with.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/anonsignal/crypto"
)

// MaxInputs is the widest Poseidon instance available, domain tag included.
const MaxInputs = 16

// DomainHash hashes the domain tag followed by the inputs. Inputs are
// reduced into the scalar field first, so any big.Int is accepted.
func DomainHash(domain uint64, inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs)+1 > MaxInputs {
		return nil, fmt.Errorf("too many inputs: %d, max %d", len(inputs), MaxInputs-1)
	}
	elements := make([]*big.Int, 0, len(inputs)+1)
	elements = append(elements, new(big.Int).SetUint64(domain))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("nil input %d", i)
		}
		elements = append(elements, crypto.BigToFF(crypto.FieldModulus, in))
	}
	return poseidon.Hash(elements)
}
