package census

import (
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/storage/db/metadb"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/db"
)

func TestCensusDBAdd(t *testing.T) {
	c := qt.New(t)
	censusDB, err := NewCensusDB(storage.New(metadb.NewTest(t)), 10, 2)
	c.Assert(err, qt.IsNil)
	emptyRoot := censusDB.Root()
	c.Assert(censusDB.IsKnownRoot(emptyRoot), qt.IsTrue)

	root1, err := censusDB.Add(big.NewInt(1))
	c.Assert(err, qt.IsNil)
	root2, err := censusDB.Add(big.NewInt(2))
	c.Assert(err, qt.IsNil)
	c.Assert(censusDB.Size(), qt.Equals, uint64(2))
	c.Assert(censusDB.Root().Cmp(root2), qt.Equals, 0)
	for _, r := range []*big.Int{emptyRoot, root1, root2} {
		c.Assert(censusDB.IsKnownRoot(r), qt.IsTrue)
	}

	// the oldest root leaves the window
	root3, err := censusDB.Add(big.NewInt(3))
	c.Assert(err, qt.IsNil)
	c.Assert(censusDB.IsKnownRoot(emptyRoot), qt.IsFalse)
	c.Assert(censusDB.CheckRoot(emptyRoot), qt.ErrorIs, ErrUnknownRoot)
	c.Assert(censusDB.CheckRoot(root3), qt.IsNil)
	c.Assert(censusDB.Roots(), qt.HasLen, 3)
	c.Assert(censusDB.IsKnownRoot(nil), qt.IsFalse)

	_, err = censusDB.Add(big.NewInt(2))
	c.Assert(err, qt.ErrorIs, ErrCommitmentExists)
	c.Assert(censusDB.Size(), qt.Equals, uint64(3))

	proof, err := censusDB.Proof(big.NewInt(3))
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Root.MathBigInt().Cmp(root3), qt.Equals, 0)
	_, err = censusDB.Proof(big.NewInt(4))
	c.Assert(err, qt.ErrorIs, types.ErrNotAMember)

	// client side proofs from the published list match the relay tree
	list, err := censusDB.Commitments()
	c.Assert(err, qt.IsNil)
	clientProof, err := BuildProof(big.NewInt(3), list, censusDB.Depth())
	c.Assert(err, qt.IsNil)
	c.Assert(clientProof.Root.Equal(proof.Root), qt.IsTrue)
}

func TestCensusDBReload(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	censusDB, err := NewCensusDB(storage.New(database), 8, 5)
	c.Assert(err, qt.IsNil)
	var roots []*big.Int
	for i := range 4 {
		root, err := censusDB.Add(big.NewInt(int64(10 + i)))
		c.Assert(err, qt.IsNil)
		roots = append(roots, root)
	}

	reloaded, err := NewCensusDB(storage.New(database), 8, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(reloaded.Size(), qt.Equals, uint64(4))
	c.Assert(reloaded.Root().Cmp(roots[3]), qt.Equals, 0)
	for _, r := range roots {
		c.Assert(reloaded.IsKnownRoot(r), qt.IsTrue)
	}
}

func newDatabase(t *testing.T) db.Database {
	return metadb.NewTest(t)
}

func TestCensusDBConcurrentAdd(t *testing.T) {
	c := qt.New(t)
	censusDB, err := NewCensusDB(storage.New(newDatabase(t)), 8, types.DefaultRootHistorySize)
	c.Assert(err, qt.IsNil)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every commitment is sent twice, only one of them is accepted
			if _, err := censusDB.Add(big.NewInt(int64(i%8 + 1))); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	c.Assert(failures.Load(), qt.Equals, int32(8))
	c.Assert(censusDB.Size(), qt.Equals, uint64(8))

	list, err := censusDB.Commitments()
	c.Assert(err, qt.IsNil)
	c.Assert(naiveRoot(list, 8).Cmp(censusDB.Root()), qt.Equals, 0)
}
