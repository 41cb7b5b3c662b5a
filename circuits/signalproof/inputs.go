package signalproof

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/anonsignal/identity"
	"github.com/vocdoni/anonsignal/types"
)

// NewInputs assembles the circuit inputs of a member signal: the identity
// secrets, the membership proof of its commitment, the signal hash and the
// external nullifier. The nullifier hash is computed natively.
func NewInputs(id *identity.Identity, proof *types.MerkleProof, signalHash, externalNullifier *big.Int) (*Inputs, error) {
	if id == nil || proof == nil || proof.Root == nil || proof.Leaf == nil {
		return nil, fmt.Errorf("missing identity or membership proof")
	}
	if proof.Leaf.MathBigInt().Cmp(id.Commitment()) != 0 {
		return nil, fmt.Errorf("%w: membership proof is for another commitment", types.ErrNotAMember)
	}
	if signalHash == nil || externalNullifier == nil {
		return nil, fmt.Errorf("missing signal hash or external nullifier")
	}
	nullifierHash, err := id.NullifierHash(externalNullifier)
	if err != nil {
		return nil, err
	}
	in := &Inputs{
		IdentityNullifier: id.NullifierSecret(),
		IdentityTrapdoor:  id.Trapdoor(),
		Siblings:          make([]*big.Int, len(proof.Siblings)),
		PathIndices:       append([]uint8(nil), proof.PathIndices...),
		Root:              proof.Root.MathBigInt(),
		NullifierHash:     nullifierHash,
		SignalHash:        signalHash,
		ExternalNullifier: externalNullifier,
	}
	for i, s := range proof.Siblings {
		if s == nil {
			return nil, fmt.Errorf("missing sibling at level %d", i)
		}
		in.Siblings[i] = s.MathBigInt()
	}
	return in, nil
}

// PublicSignals returns the public part of the inputs.
func (in *Inputs) PublicSignals() *types.PublicSignals {
	return &types.PublicSignals{
		Root:              types.BigIntFrom(in.Root),
		NullifierHash:     types.BigIntFrom(in.NullifierHash),
		SignalHash:        types.BigIntFrom(in.SignalHash),
		ExternalNullifier: types.BigIntFrom(in.ExternalNullifier),
	}
}
