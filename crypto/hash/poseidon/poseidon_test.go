package poseidon

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/anonsignal/crypto"
)

func TestDomainHash(t *testing.T) {
	c := qt.New(t)

	h, err := DomainHash(1, big.NewInt(7))
	c.Assert(err, qt.IsNil)
	expected, err := poseidon.Hash([]*big.Int{big.NewInt(1), big.NewInt(7)})
	c.Assert(err, qt.IsNil)
	c.Assert(h.Cmp(expected), qt.Equals, 0)

	other, err := DomainHash(2, big.NewInt(7))
	c.Assert(err, qt.IsNil)
	c.Assert(other.Cmp(h), qt.Not(qt.Equals), 0)

	// out of field inputs are reduced
	wrapped, err := DomainHash(1, new(big.Int).Add(crypto.FieldModulus, big.NewInt(7)))
	c.Assert(err, qt.IsNil)
	c.Assert(wrapped.Cmp(h), qt.Equals, 0)

	_, err = DomainHash(1)
	c.Assert(err, qt.ErrorMatches, "no inputs provided")
	_, err = DomainHash(1, make([]*big.Int, MaxInputs)...)
	c.Assert(err, qt.ErrorMatches, "too many inputs.*")
	_, err = DomainHash(1, big.NewInt(1), nil)
	c.Assert(err, qt.ErrorMatches, "nil input 1")
}
