package types

import (
	"encoding/json"
	"fmt"
)

// MerkleProof is the authentication path of a leaf in the membership tree.
// PathIndices[i] is 0 when the node at level i is a left child and 1 when it
// is a right child, Siblings[i] is the node next to it.
type MerkleProof struct {
	Leaf        *BigInt   `json:"leaf"`
	Root        *BigInt   `json:"root"`
	Index       uint64    `json:"index"`
	Siblings    []*BigInt `json:"siblings"`
	PathIndices []uint8   `json:"pathIndices"`
}

// SolidityProof is a Groth16 proof packed as eight field elements, in the
// order expected by the on-chain verifier.
type SolidityProof [SolidityProofLen]*BigInt

// UnmarshalJSON requires exactly SolidityProofLen elements.
func (p *SolidityProof) UnmarshalJSON(data []byte) error {
	var elems []*BigInt
	if err := json.Unmarshal(data, &elems); err != nil {
		return err
	}
	if len(elems) != SolidityProofLen {
		return fmt.Errorf("proof must have %d elements, got %d", SolidityProofLen, len(elems))
	}
	for i, e := range elems {
		if e == nil {
			return fmt.Errorf("proof element %d is null", i)
		}
		p[i] = e
	}
	return nil
}

// Valid returns an error if any element is missing.
func (p *SolidityProof) Valid() error {
	for i, e := range p {
		if e == nil {
			return fmt.Errorf("proof element %d is missing", i)
		}
	}
	return nil
}

// PublicSignals are the public inputs of the signal circuit.
type PublicSignals struct {
	Root              *BigInt `json:"merkleTreeRoot"`
	NullifierHash     *BigInt `json:"nullifierHash"`
	SignalHash        *BigInt `json:"signalHash"`
	ExternalNullifier *BigInt `json:"externalNullifier"`
}

// ProofBundle is the output of the proof generator: the packed proof and the
// public signals it was generated for.
type ProofBundle struct {
	Proof         SolidityProof `json:"solidityProof"`
	PublicSignals PublicSignals `json:"publicSignals"`
}
