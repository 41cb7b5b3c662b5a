package service

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/api/client"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/relay"
	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/storage/db/metadb"
	"github.com/vocdoni/anonsignal/storage/nullifiers"
	"github.com/vocdoni/anonsignal/types"
)

type acceptAll struct{}

func (acceptAll) Verify(types.SolidityProof, *types.PublicSignals) error { return nil }

func newTestRelay(c *qt.C) (*relay.Relay, *census.CensusDB) {
	stg := storage.New(metadb.NewTest(c.TB))
	cdb, err := census.NewCensusDB(stg, 4, types.DefaultRootHistorySize)
	c.Assert(err, qt.IsNil)
	registry, err := nullifiers.NewArboRegistry(metadb.NewTest(c.TB))
	c.Assert(err, qt.IsNil)
	mem := ledger.NewMemory(acceptAll{}, 0)
	c.Cleanup(mem.Close)
	r, err := relay.New(relay.Config{ExternalNullifier: crypto.ExternalNullifier("round-1")},
		stg, cdb, acceptAll{}, registry, mem)
	c.Assert(err, qt.IsNil)
	return r, cdb
}

func freePort(c *qt.C) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitClient(c *qt.C, url string) *client.HTTPclient {
	deadline := time.Now().Add(5 * time.Second)
	for {
		cli, err := client.New(url)
		if err == nil {
			return cli
		}
		if time.Now().After(deadline) {
			c.Fatalf("API not reachable: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestAPIService(t *testing.T) {
	c := qt.New(t)
	r, cdb := newTestRelay(c)
	relaySrv := NewRelay(r)
	ctx := context.Background()
	c.Assert(relaySrv.Start(ctx), qt.IsNil)
	defer relaySrv.Stop()

	port := freePort(c)
	apiService := NewAPI(r, cdb, "127.0.0.1", port, "secret")
	c.Assert(apiService.Start(ctx), qt.IsNil)
	defer apiService.Stop()

	cli := waitClient(c, fmt.Sprintf("http://127.0.0.1:%d", port))
	cli.SetAdminToken("secret")
	_, err := cli.AddCommitments(ctx, types.NewInt(1), types.NewInt(2))
	c.Assert(err, qt.IsNil)
	root, err := cli.CensusRoot(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(root.Root.MathBigInt().Cmp(cdb.Root()), qt.Equals, 0)

	bundle := &types.ProofBundle{PublicSignals: types.PublicSignals{
		Root:          root.Root,
		NullifierHash: types.BigIntFrom(big.NewInt(77)),
	}}
	for i := range bundle.Proof {
		bundle.Proof[i] = types.NewInt(int64(i))
	}
	handle, err := cli.Submit(ctx, bundle, "Hello")
	c.Assert(err, qt.IsNil)
	c.Assert(handle.Signal, qt.Equals, "Hello")
	_, err = cli.Submit(ctx, bundle, "Hello")
	c.Assert(types.KindOf(err), qt.Equals, types.KindNullifierAlreadyUsed)

	// starting an already running service
	c.Assert(apiService.Start(ctx), qt.ErrorMatches, "service already running")
	c.Assert(relaySrv.Start(ctx), qt.ErrorMatches, "relay already running")
}
