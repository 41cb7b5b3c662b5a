package census

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/anonsignal/crypto/hash/mimc"
	"github.com/vocdoni/anonsignal/types"
)

// MaxDepth bounds the tree depth, the leaf index must fit in a uint64.
const MaxDepth = 32

// Tree is an append-only binary Merkle tree of fixed depth. Empty positions
// hold the zero leaf, and a parent node is MiMC(left, right). Only non-empty
// nodes are stored, empty subtrees are taken from the precomputed zeros.
type Tree struct {
	depth  int
	zeros  []*big.Int   // zeros[i] is the root of an empty subtree of height i
	layers [][]*big.Int // layers[0] are the leaves, layers[depth] the root
	index  map[string]uint64
}

// NewTree returns an empty tree of the given depth.
func NewTree(depth int) (*Tree, error) {
	if depth <= 0 || depth > MaxDepth {
		return nil, fmt.Errorf("invalid tree depth %d", depth)
	}
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := 0; i < depth; i++ {
		h, err := mimc.Hash(zeros[i], zeros[i])
		if err != nil {
			return nil, err
		}
		zeros[i+1] = h
	}
	return &Tree{
		depth:  depth,
		zeros:  zeros,
		layers: make([][]*big.Int, depth+1),
		index:  make(map[string]uint64),
	}, nil
}

// Depth returns the number of levels of the tree.
func (t *Tree) Depth() int {
	return t.depth
}

// Size returns the number of leaves inserted.
func (t *Tree) Size() uint64 {
	return uint64(len(t.layers[0]))
}

// Capacity returns the maximum number of leaves.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << t.depth
}

// Root returns the current root. The root of an empty tree is
// zeros[depth].
func (t *Tree) Root() *big.Int {
	if len(t.layers[t.depth]) == 0 {
		return new(big.Int).Set(t.zeros[t.depth])
	}
	return new(big.Int).Set(t.layers[t.depth][0])
}

// Insert appends a leaf and updates its path to the root.
func (t *Tree) Insert(leaf *big.Int) error {
	if t.Size() >= t.Capacity() {
		return fmt.Errorf("tree is full (%d leaves)", t.Capacity())
	}
	key := leaf.String()
	if _, ok := t.index[key]; ok {
		return fmt.Errorf("leaf %s already in the tree", key)
	}
	idx := t.Size()
	node := new(big.Int).Set(leaf)
	t.layers[0] = append(t.layers[0], node)
	for level := 0; level < t.depth; level++ {
		var left, right *big.Int
		if idx%2 == 0 {
			left, right = node, t.node(level, idx+1)
		} else {
			left, right = t.node(level, idx-1), node
		}
		parent, err := mimc.Hash(left, right)
		if err != nil {
			return err
		}
		idx /= 2
		if uint64(len(t.layers[level+1])) == idx {
			t.layers[level+1] = append(t.layers[level+1], parent)
		} else {
			t.layers[level+1][idx] = parent
		}
		node = parent
	}
	t.index[key] = t.Size() - 1
	return nil
}

// IndexOf returns the position of the leaf.
func (t *Tree) IndexOf(leaf *big.Int) (uint64, bool) {
	idx, ok := t.index[leaf.String()]
	return idx, ok
}

// Proof returns the authentication path of the leaf at index.
func (t *Tree) Proof(index uint64) (*types.MerkleProof, error) {
	if index >= t.Size() {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}
	proof := &types.MerkleProof{
		Leaf:        types.BigIntFrom(t.layers[0][index]),
		Root:        types.BigIntFrom(t.Root()),
		Index:       index,
		Siblings:    make([]*types.BigInt, t.depth),
		PathIndices: make([]uint8, t.depth),
	}
	idx := index
	for level := 0; level < t.depth; level++ {
		proof.PathIndices[level] = uint8(idx % 2)
		proof.Siblings[level] = types.BigIntFrom(t.node(level, idx^1))
		idx /= 2
	}
	return proof, nil
}

// node returns the node at level and position, or the zero subtree when the
// position is still empty.
func (t *Tree) node(level int, idx uint64) *big.Int {
	if idx < uint64(len(t.layers[level])) {
		return t.layers[level][idx]
	}
	return t.zeros[level]
}

// BuildProof computes the membership proof of commitment against the
// ordered commitments snapshot. It returns types.ErrNotAMember if the
// commitment is not in the list.
func BuildProof(commitment *big.Int, commitments []*big.Int, depth int) (*types.MerkleProof, error) {
	if commitment == nil {
		return nil, fmt.Errorf("%w: missing commitment", types.ErrNotAMember)
	}
	tree, err := NewTree(depth)
	if err != nil {
		return nil, err
	}
	if uint64(len(commitments)) > tree.Capacity() {
		return nil, fmt.Errorf("%d commitments do not fit in a tree of depth %d", len(commitments), depth)
	}
	for _, c := range commitments {
		if err := tree.Insert(c); err != nil {
			return nil, fmt.Errorf("cannot build membership tree: %w", err)
		}
	}
	idx, ok := tree.IndexOf(commitment)
	if !ok {
		return nil, fmt.Errorf("%w: commitment %s not in a group of %d", types.ErrNotAMember, commitment.String(), len(commitments))
	}
	return tree.Proof(idx)
}

// VerifyProof recomputes the root from the leaf and the path, and compares
// it with the proof root.
func VerifyProof(proof *types.MerkleProof) (bool, error) {
	root, err := ComputeRoot(proof)
	if err != nil {
		return false, err
	}
	return root.Cmp(proof.Root.MathBigInt()) == 0, nil
}

// ComputeRoot returns the root implied by the leaf and the path of the proof.
func ComputeRoot(proof *types.MerkleProof) (*big.Int, error) {
	if proof == nil || proof.Leaf == nil || proof.Root == nil {
		return nil, fmt.Errorf("incomplete merkle proof")
	}
	if len(proof.Siblings) != len(proof.PathIndices) {
		return nil, fmt.Errorf("siblings and path indices length mismatch")
	}
	node := proof.Leaf.MathBigInt()
	for i, sibling := range proof.Siblings {
		if sibling == nil {
			return nil, fmt.Errorf("missing sibling at level %d", i)
		}
		var err error
		switch proof.PathIndices[i] {
		case 0:
			node, err = mimc.Hash(node, sibling.MathBigInt())
		case 1:
			node, err = mimc.Hash(sibling.MathBigInt(), node)
		default:
			return nil, fmt.Errorf("invalid path index %d at level %d", proof.PathIndices[i], i)
		}
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}
