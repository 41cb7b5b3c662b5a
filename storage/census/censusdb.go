package census

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

var (
	// ErrUnknownRoot is returned when a root is neither the current one nor
	// in the accepted history window.
	ErrUnknownRoot = fmt.Errorf("unknown membership root")
	// ErrCommitmentExists is returned when registering a commitment twice.
	ErrCommitmentExists = fmt.Errorf("commitment already registered")
)

// CensusDB is the persistent membership set: the ordered list of identity
// commitments, the Merkle tree built from it, and the window of recent roots
// the relay accepts proofs against. It is safe for concurrent use.
type CensusDB struct {
	mu          sync.RWMutex
	stg         *storage.Storage
	tree        *Tree
	historySize int
	// roots holds the current root and up to historySize previous ones,
	// oldest first. rootIndex maps each of them to its tree size.
	roots     []string
	rootIndex map[string]uint64
}

// NewCensusDB loads the membership list from storage and builds the tree.
// historySize is the number of superseded roots that remain valid.
func NewCensusDB(stg *storage.Storage, depth, historySize int) (*CensusDB, error) {
	if stg == nil {
		return nil, fmt.Errorf("missing storage")
	}
	if historySize < 0 {
		return nil, fmt.Errorf("invalid root history size %d", historySize)
	}
	tree, err := NewTree(depth)
	if err != nil {
		return nil, err
	}
	c := &CensusDB{
		stg:         stg,
		tree:        tree,
		historySize: historySize,
		rootIndex:   make(map[string]uint64),
	}
	commitments, err := stg.Commitments()
	if err != nil {
		return nil, fmt.Errorf("load commitments: %w", err)
	}
	// replay the tail of the list so the history survives restarts
	replayFrom := max(0, len(commitments)-historySize)
	for i, commitment := range commitments {
		if err := tree.Insert(commitment); err != nil {
			return nil, fmt.Errorf("rebuild membership tree: %w", err)
		}
		if i >= replayFrom {
			c.pushRoot()
		}
	}
	if len(commitments) == 0 {
		c.pushRoot()
	}
	log.Infow("membership set loaded",
		"size", tree.Size(),
		"depth", depth,
		"root", tree.Root().String())
	return c, nil
}

// Add registers new identity commitments, in order, and updates the root.
// Either all of them are added or none.
func (c *CensusDB) Add(commitments ...*big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tree.Size()+uint64(len(commitments)) > c.tree.Capacity() {
		return nil, fmt.Errorf("membership tree is full")
	}
	if _, err := c.stg.AddCommitments(commitments...); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %v", ErrCommitmentExists, err)
		}
		return nil, err
	}
	for _, commitment := range commitments {
		if err := c.tree.Insert(commitment); err != nil {
			return nil, fmt.Errorf("insert commitment: %w", err)
		}
		c.pushRoot()
	}
	root := c.tree.Root()
	log.Debugw("membership set updated", "added", len(commitments), "size", c.tree.Size(), "root", root.String())
	return root, nil
}

// pushRoot appends the current tree root to the history window.
func (c *CensusDB) pushRoot() {
	rk := c.tree.Root().String()
	if _, ok := c.rootIndex[rk]; ok {
		return
	}
	c.roots = append(c.roots, rk)
	c.rootIndex[rk] = c.tree.Size()
	for len(c.roots) > c.historySize+1 {
		delete(c.rootIndex, c.roots[0])
		c.roots = c.roots[1:]
	}
}

// Root returns the current membership root.
func (c *CensusDB) Root() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Root()
}

// Size returns the number of registered commitments.
func (c *CensusDB) Size() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Size()
}

// Depth returns the depth of the membership tree.
func (c *CensusDB) Depth() int {
	return c.tree.Depth()
}

// IsKnownRoot returns true if root is the current root or one of the recent
// roots in the history window.
func (c *CensusDB) IsKnownRoot(root *big.Int) bool {
	if root == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rootIndex[root.String()]
	return ok
}

// CheckRoot returns ErrUnknownRoot if root is not accepted.
func (c *CensusDB) CheckRoot(root *big.Int) error {
	if !c.IsKnownRoot(root) {
		return fmt.Errorf("%w: %v", ErrUnknownRoot, root)
	}
	return nil
}

// Roots returns the accepted roots, oldest first.
func (c *CensusDB) Roots() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.roots...)
}

// Commitments returns the ordered membership list as published to members.
func (c *CensusDB) Commitments() ([]*big.Int, error) {
	return c.stg.Commitments()
}

// Proof returns the membership proof of the commitment against the current
// tree, or types.ErrNotAMember.
func (c *CensusDB) Proof(commitment *big.Int) (*types.MerkleProof, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.tree.IndexOf(commitment)
	if !ok {
		return nil, fmt.Errorf("%w: commitment %v", types.ErrNotAMember, commitment)
	}
	return c.tree.Proof(idx)
}
