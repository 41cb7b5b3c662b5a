package nullifiers

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/types"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var nullifierTreePrefix = []byte("nf/")

const nullifierTreeLevels = 256

// ArboRegistry stores the consumed nullifiers as keys of a sparse Merkle
// tree, so the consumed set can be committed to by its root.
type ArboRegistry struct {
	// mu serializes the lookup and the insertion, arbo releases its own lock
	// before the database transaction is committed.
	mu   sync.Mutex
	tree *arbo.Tree
}

// NewArboRegistry opens (or creates) the registry in its own prefix of the
// database.
func NewArboRegistry(database db.Database) (*ArboRegistry, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(database, nullifierTreePrefix),
		MaxLevels:    nullifierTreeLevels,
		HashFunction: arbo.HashFunctionSha256,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open nullifier tree: %w", err)
	}
	return &ArboRegistry{tree: tree}, nil
}

// Consume implements Registry.
func (r *ArboRegistry) Consume(ctx context.Context, nullifierHash *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := treeKey(nullifierHash)
	if err != nil {
		return err
	}
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(time.Now().Unix()))

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.tree.Add(key, value); err != nil {
		if errors.Is(err, arbo.ErrKeyAlreadyExists) {
			return fmt.Errorf("%w: %s", types.ErrNullifierAlreadyUsed, nullifierHash.String())
		}
		return fmt.Errorf("cannot store nullifier: %w", err)
	}
	return nil
}

// Used implements Registry.
func (r *ArboRegistry) Used(ctx context.Context, nullifierHash *big.Int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := treeKey(nullifierHash)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, _, err := r.tree.Get(key); err != nil {
		if errors.Is(err, arbo.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Root returns the root of the consumed nullifiers tree.
func (r *ArboRegistry) Root() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Root()
}

func treeKey(nullifierHash *big.Int) ([]byte, error) {
	if nullifierHash == nil || nullifierHash.Sign() < 0 || nullifierHash.Cmp(crypto.FieldModulus) >= 0 {
		return nil, fmt.Errorf("invalid nullifier hash %v", nullifierHash)
	}
	return arbo.BigIntToBytes(arbo.HashFunctionSha256.Len(), nullifierHash), nil
}
