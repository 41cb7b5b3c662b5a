package signalproof

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/identity"
	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/types"
)

const testDepth = 4

func testInputs(c *qt.C, seed string) (*identity.Identity, *Inputs) {
	id, err := identity.Derive([]byte(seed))
	c.Assert(err, qt.IsNil)
	commitments := []*big.Int{big.NewInt(101), id.Commitment(), big.NewInt(303)}
	proof, err := census.BuildProof(id.Commitment(), commitments, testDepth)
	c.Assert(err, qt.IsNil)
	signal, err := types.EncodeSignal("Hello")
	c.Assert(err, qt.IsNil)
	in, err := NewInputs(id, proof, crypto.SignalHash(signal), crypto.ExternalNullifier("round-1"))
	c.Assert(err, qt.IsNil)
	return id, in
}

func TestCircuitSolved(t *testing.T) {
	c := qt.New(t)
	_, in := testInputs(c, "sig-A")

	assignment, err := in.Assignment(testDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(NewCircuit(testDepth), assignment, ecc.BN254.ScalarField()), qt.IsNil)
}

func TestCircuitRejectsWrongWitness(t *testing.T) {
	c := qt.New(t)
	field := ecc.BN254.ScalarField()

	// a nullifier hash from another scope
	_, in := testInputs(c, "sig-A")
	in.NullifierHash = new(big.Int).Add(in.NullifierHash, big.NewInt(1))
	assignment, err := in.Assignment(testDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(NewCircuit(testDepth), assignment, field), qt.IsNotNil)

	// a root the identity is not a member of
	_, in = testInputs(c, "sig-A")
	in.Root = big.NewInt(12345)
	assignment, err = in.Assignment(testDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(NewCircuit(testDepth), assignment, field), qt.IsNotNil)

	// secrets of another identity
	other, err := identity.Derive([]byte("sig-B"))
	c.Assert(err, qt.IsNil)
	_, in = testInputs(c, "sig-A")
	in.IdentityTrapdoor = other.Trapdoor()
	assignment, err = in.Assignment(testDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(NewCircuit(testDepth), assignment, field), qt.IsNotNil)

	// non boolean path index
	_, in = testInputs(c, "sig-A")
	in.PathIndices[0] = 2
	assignment, err = in.Assignment(testDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(NewCircuit(testDepth), assignment, field), qt.IsNotNil)
}

func TestNewInputs(t *testing.T) {
	c := qt.New(t)
	id, in := testInputs(c, "sig-A")

	expected, err := id.NullifierHash(crypto.ExternalNullifier("round-1"))
	c.Assert(err, qt.IsNil)
	c.Assert(in.NullifierHash.Cmp(expected), qt.Equals, 0)
	pub := in.PublicSignals()
	c.Assert(pub.NullifierHash.MathBigInt().Cmp(expected), qt.Equals, 0)

	_, err = in.Assignment(testDepth + 1)
	c.Assert(err, qt.IsNotNil)

	// a proof for another commitment
	other, err := identity.Derive([]byte("sig-B"))
	c.Assert(err, qt.IsNil)
	proof, err := census.BuildProof(big.NewInt(101), []*big.Int{big.NewInt(101)}, testDepth)
	c.Assert(err, qt.IsNil)
	_, err = NewInputs(other, proof, big.NewInt(1), big.NewInt(2))
	c.Assert(err, qt.ErrorIs, types.ErrNotAMember)

	_, err = PublicAssignment(&types.PublicSignals{}, testDepth)
	c.Assert(err, qt.IsNotNil)
	a, err := PublicAssignment(pub, testDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(a.Siblings, qt.HasLen, testDepth)
}
