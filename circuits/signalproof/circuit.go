// Package signalproof defines the anonymous signal circuit: membership of an
// identity commitment in a fixed depth MiMC Merkle tree, a scope bound
// nullifier and a binding to the signal hash.
package signalproof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/vocdoni/anonsignal/types"
)

// Circuit is the gnark definition of the signal circuit. The length of
// Siblings and PathIndices fixes the tree depth at compile time.
type Circuit struct {
	Root              frontend.Variable `gnark:",public"`
	NullifierHash     frontend.Variable `gnark:",public"`
	SignalHash        frontend.Variable `gnark:",public"`
	ExternalNullifier frontend.Variable `gnark:",public"`

	IdentityNullifier frontend.Variable
	IdentityTrapdoor  frontend.Variable
	PathIndices       []frontend.Variable
	Siblings          []frontend.Variable
}

// NewCircuit returns an empty circuit for a tree of the given depth, ready to
// be compiled.
func NewCircuit(depth int) *Circuit {
	return &Circuit{
		PathIndices: make([]frontend.Variable, depth),
		Siblings:    make([]frontend.Variable, depth),
	}
}

// Define implements frontend.Circuit.
func (c *Circuit) Define(api frontend.API) error {
	if len(c.PathIndices) != len(c.Siblings) {
		return fmt.Errorf("path indices and siblings length mismatch")
	}
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	// identity commitment, the leaf of the membership tree
	h.Write(c.IdentityNullifier, c.IdentityTrapdoor)
	node := h.Sum()
	for i := range c.Siblings {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], c.Siblings[i], node)
		right := api.Select(c.PathIndices[i], node, c.Siblings[i])
		h.Reset()
		h.Write(left, right)
		node = h.Sum()
	}
	api.AssertIsEqual(node, c.Root)

	h.Reset()
	h.Write(c.ExternalNullifier, c.IdentityNullifier)
	api.AssertIsEqual(h.Sum(), c.NullifierHash)

	// the signal hash takes no part in the statement, the square makes it a
	// constrained input so the proof is bound to it
	api.Mul(c.SignalHash, c.SignalHash)
	return nil
}

// Inputs are the values a proof is generated for.
type Inputs struct {
	IdentityNullifier *big.Int
	IdentityTrapdoor  *big.Int
	Siblings          []*big.Int
	PathIndices       []uint8

	Root              *big.Int
	NullifierHash     *big.Int
	SignalHash        *big.Int
	ExternalNullifier *big.Int
}

// Assignment returns the full witness assignment of the inputs.
func (in *Inputs) Assignment(depth int) (*Circuit, error) {
	if len(in.Siblings) != depth || len(in.PathIndices) != depth {
		return nil, fmt.Errorf("merkle path has %d levels, expected %d", len(in.Siblings), depth)
	}
	for _, v := range []*big.Int{
		in.IdentityNullifier, in.IdentityTrapdoor,
		in.Root, in.NullifierHash, in.SignalHash, in.ExternalNullifier,
	} {
		if v == nil {
			return nil, fmt.Errorf("missing circuit input")
		}
	}
	a := NewCircuit(depth)
	a.Root = in.Root
	a.NullifierHash = in.NullifierHash
	a.SignalHash = in.SignalHash
	a.ExternalNullifier = in.ExternalNullifier
	a.IdentityNullifier = in.IdentityNullifier
	a.IdentityTrapdoor = in.IdentityTrapdoor
	for i := range depth {
		if in.Siblings[i] == nil {
			return nil, fmt.Errorf("missing sibling at level %d", i)
		}
		a.Siblings[i] = in.Siblings[i]
		a.PathIndices[i] = int(in.PathIndices[i])
	}
	return a, nil
}

// PublicAssignment returns an assignment holding only the public signals,
// used to build the public witness for verification.
func PublicAssignment(pub *types.PublicSignals, depth int) (*Circuit, error) {
	if pub == nil || pub.Root == nil || pub.NullifierHash == nil ||
		pub.SignalHash == nil || pub.ExternalNullifier == nil {
		return nil, fmt.Errorf("incomplete public signals")
	}
	a := NewCircuit(depth)
	a.Root = pub.Root.MathBigInt()
	a.NullifierHash = pub.NullifierHash.MathBigInt()
	a.SignalHash = pub.SignalHash.MathBigInt()
	a.ExternalNullifier = pub.ExternalNullifier.MathBigInt()
	a.IdentityNullifier = 0
	a.IdentityTrapdoor = 0
	for i := range depth {
		a.Siblings[i] = 0
		a.PathIndices[i] = 0
	}
	return a, nil
}
