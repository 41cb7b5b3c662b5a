package census

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/crypto/hash/mimc"
	"github.com/vocdoni/anonsignal/types"
)

// naiveRoot computes the root hashing every level of the zero padded tree.
func naiveRoot(leaves []*big.Int, depth int) *big.Int {
	level := make([]*big.Int, 1<<depth)
	for i := range level {
		if i < len(leaves) {
			level[i] = leaves[i]
		} else {
			level[i] = big.NewInt(0)
		}
	}
	for len(level) > 1 {
		next := make([]*big.Int, len(level)/2)
		for i := range next {
			next[i] = mimc.MustHash(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func TestTreeRoot(t *testing.T) {
	c := qt.New(t)

	tree, err := NewTree(4)
	c.Assert(err, qt.IsNil)
	c.Assert(tree.Root().Cmp(naiveRoot(nil, 4)), qt.Equals, 0)

	var leaves []*big.Int
	for i := range 7 {
		leaf := big.NewInt(int64(100 + i))
		leaves = append(leaves, leaf)
		c.Assert(tree.Insert(leaf), qt.IsNil)
		c.Assert(tree.Root().Cmp(naiveRoot(leaves, 4)), qt.Equals, 0, qt.Commentf("after %d leaves", i+1))
	}
	c.Assert(tree.Size(), qt.Equals, uint64(7))
	c.Assert(tree.Insert(big.NewInt(100)), qt.IsNotNil)

	_, err = NewTree(0)
	c.Assert(err, qt.IsNotNil)
	_, err = NewTree(MaxDepth + 1)
	c.Assert(err, qt.IsNotNil)
}

func TestTreeFull(t *testing.T) {
	c := qt.New(t)

	tree, err := NewTree(2)
	c.Assert(err, qt.IsNil)
	for i := range 4 {
		c.Assert(tree.Insert(big.NewInt(int64(i+1))), qt.IsNil)
	}
	c.Assert(tree.Insert(big.NewInt(5)), qt.ErrorMatches, "tree is full.*")
}

func TestTreeProofs(t *testing.T) {
	c := qt.New(t)

	tree, err := NewTree(5)
	c.Assert(err, qt.IsNil)
	for i := range 11 {
		c.Assert(tree.Insert(big.NewInt(int64(i*3+1))), qt.IsNil)
	}
	for i := range uint64(11) {
		proof, err := tree.Proof(i)
		c.Assert(err, qt.IsNil)
		c.Assert(proof.Siblings, qt.HasLen, 5)
		c.Assert(proof.PathIndices, qt.HasLen, 5)
		ok, err := VerifyProof(proof)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue, qt.Commentf("leaf %d", i))
	}
	_, err = tree.Proof(11)
	c.Assert(err, qt.IsNotNil)

	// tampering with the leaf or the path breaks the proof
	proof, err := tree.Proof(3)
	c.Assert(err, qt.IsNil)
	proof.Leaf = types.NewInt(9999)
	ok, err := VerifyProof(proof)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	proof, err = tree.Proof(3)
	c.Assert(err, qt.IsNil)
	proof.PathIndices[0] ^= 1
	ok, err = VerifyProof(proof)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	proof.PathIndices[0] = 2
	_, err = VerifyProof(proof)
	c.Assert(err, qt.IsNotNil)
}

func TestBuildProof(t *testing.T) {
	c := qt.New(t)

	commitments := []*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33)}
	proof, err := BuildProof(big.NewInt(22), commitments, types.CensusTreeDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Index, qt.Equals, uint64(1))
	c.Assert(proof.Siblings, qt.HasLen, types.CensusTreeDepth)
	c.Assert(proof.PathIndices[0], qt.Equals, uint8(1))
	ok, err := VerifyProof(proof)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	// same snapshot, same proof
	again, err := BuildProof(big.NewInt(22), commitments, types.CensusTreeDepth)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Root.Equal(proof.Root), qt.IsTrue)

	_, err = BuildProof(big.NewInt(44), commitments, types.CensusTreeDepth)
	c.Assert(err, qt.ErrorIs, types.ErrNotAMember)
	_, err = BuildProof(big.NewInt(11), nil, types.CensusTreeDepth)
	c.Assert(err, qt.ErrorIs, types.ErrNotAMember)
}
