package identity

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/crypto/ethereum"
	"github.com/vocdoni/anonsignal/crypto/hash/mimc"
)

func TestDeriveDeterministic(t *testing.T) {
	c := qt.New(t)

	a, err := Derive([]byte("sig-A"))
	c.Assert(err, qt.IsNil)
	b, err := Derive([]byte("sig-A"))
	c.Assert(err, qt.IsNil)
	c.Assert(a.Commitment().Cmp(b.Commitment()), qt.Equals, 0)
	c.Assert(a.Trapdoor().Cmp(b.Trapdoor()), qt.Equals, 0)
	c.Assert(a.NullifierSecret().Cmp(b.NullifierSecret()), qt.Equals, 0)

	other, err := Derive([]byte("sig-B"))
	c.Assert(err, qt.IsNil)
	c.Assert(other.Commitment().Cmp(a.Commitment()), qt.Not(qt.Equals), 0)

	c.Assert(a.Trapdoor().Cmp(a.NullifierSecret()), qt.Not(qt.Equals), 0)
	c.Assert(a.Commitment().Cmp(crypto.FieldModulus), qt.Equals, -1)

	expected, err := mimc.Hash(a.NullifierSecret(), a.Trapdoor())
	c.Assert(err, qt.IsNil)
	c.Assert(a.Commitment().Cmp(expected), qt.Equals, 0)

	_, err = Derive(nil)
	c.Assert(err, qt.IsNotNil)
}

func TestNullifierHashScope(t *testing.T) {
	c := qt.New(t)

	id, err := Derive([]byte("sig-A"))
	c.Assert(err, qt.IsNil)

	round1 := crypto.ExternalNullifier("round-1")
	round2 := crypto.ExternalNullifier("round-2")
	h1, err := id.NullifierHash(round1)
	c.Assert(err, qt.IsNil)
	again, err := id.NullifierHash(round1)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(again), qt.Equals, 0)

	h2, err := id.NullifierHash(round2)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h2), qt.Not(qt.Equals), 0)

	other, err := Derive([]byte("sig-B"))
	c.Assert(err, qt.IsNil)
	h3, err := other.NullifierHash(round1)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h3), qt.Not(qt.Equals), 0)
}

func TestDeriveFromKey(t *testing.T) {
	c := qt.New(t)

	keys := ethereum.NewSignKeys()
	c.Assert(keys.Generate(), qt.IsNil)

	a, err := DeriveFromKey(keys)
	c.Assert(err, qt.IsNil)
	b, err := DeriveFromKey(keys)
	c.Assert(err, qt.IsNil)
	c.Assert(a.Commitment().Cmp(b.Commitment()), qt.Equals, 0)
}

func TestCommitmentDoesNotAlias(t *testing.T) {
	c := qt.New(t)

	id, err := FromSecrets(big.NewInt(3), big.NewInt(5))
	c.Assert(err, qt.IsNil)
	commitment := id.Commitment()
	commitment.SetInt64(0)
	c.Assert(id.Commitment().Sign(), qt.Not(qt.Equals), 0)

	_, err = FromSecrets(nil, big.NewInt(1))
	c.Assert(err, qt.IsNotNil)
}
