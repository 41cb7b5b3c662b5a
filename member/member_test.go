package member

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/api"
	"github.com/vocdoni/anonsignal/api/client"
	"github.com/vocdoni/anonsignal/circuits/signalproof"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/identity"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/types"
)

const testDepth = 4

var scope = crypto.ExternalNullifier("round-1")

type fakeBackend struct{}

func (fakeBackend) Depth() int { return testDepth }

func (fakeBackend) Verify(types.SolidityProof, *types.PublicSignals) error { return nil }

func (fakeBackend) Prove(_ context.Context, in *signalproof.Inputs) (types.SolidityProof, error) {
	var p types.SolidityProof
	for i := range p {
		p[i] = types.BigIntFrom(in.NullifierHash)
	}
	return p, nil
}

type fakeRelay struct {
	list      *api.CensusCommitments
	listErr   error
	submitted []*types.ProofBundle
}

func (r *fakeRelay) Commitments(context.Context) (*api.CensusCommitments, error) {
	return r.list, r.listErr
}

func (r *fakeRelay) Submit(_ context.Context, b *types.ProofBundle, signal string) (*client.SubmissionHandle, error) {
	r.submitted = append(r.submitted, b)
	return &client.SubmissionHandle{ID: "1", Signal: signal, TxRef: "0x01"}, nil
}

func newGroup(c *qt.C, seeds ...string) ([]*identity.Identity, *fakeRelay) {
	var ids []*identity.Identity
	list := &api.CensusCommitments{}
	var commitments []*big.Int
	for _, seed := range seeds {
		id, err := identity.Derive([]byte(seed))
		c.Assert(err, qt.IsNil)
		ids = append(ids, id)
		commitments = append(commitments, id.Commitment())
		list.Commitments = append(list.Commitments, types.BigIntFrom(id.Commitment()))
	}
	tree, err := census.NewTree(testDepth)
	c.Assert(err, qt.IsNil)
	for _, cm := range commitments {
		c.Assert(tree.Insert(cm), qt.IsNil)
	}
	list.Version = uint64(len(commitments))
	list.Root = types.BigIntFrom(tree.Root())
	return ids, &fakeRelay{list: list}
}

func newMember(c *qt.C, id *identity.Identity, relay Relay) *Member {
	gen, err := prover.NewGenerator(fakeBackend{}, 1)
	c.Assert(err, qt.IsNil)
	m, err := New(id, relay, gen, scope)
	c.Assert(err, qt.IsNil)
	return m
}

func TestGreet(t *testing.T) {
	c := qt.New(t)
	ids, relay := newGroup(c, "sig-A", "sig-B", "sig-C")
	m := newMember(c, ids[1], relay)

	handle, err := m.Greet(context.Background(), "Hello")
	c.Assert(err, qt.IsNil)
	c.Assert(handle.Signal, qt.Equals, "Hello")
	c.Assert(relay.submitted, qt.HasLen, 1)

	bundle := relay.submitted[0]
	nh, err := ids[1].NullifierHash(scope)
	c.Assert(err, qt.IsNil)
	c.Assert(bundle.PublicSignals.NullifierHash.MathBigInt().Cmp(nh), qt.Equals, 0)
	c.Assert(bundle.PublicSignals.Root.Equal(relay.list.Root), qt.IsTrue)
	c.Assert(bundle.PublicSignals.ExternalNullifier.MathBigInt().Cmp(scope), qt.Equals, 0)
}

func TestGreetErrors(t *testing.T) {
	c := qt.New(t)
	ids, relay := newGroup(c, "sig-A", "sig-B")
	ctx := context.Background()

	_, err := newMember(c, ids[0], relay).Greet(ctx, "")
	c.Assert(types.KindOf(err), qt.Equals, types.KindMalformedSignal)

	outsider, err := identity.Derive([]byte("sig-Z"))
	c.Assert(err, qt.IsNil)
	_, err = newMember(c, outsider, relay).Greet(ctx, "Hello")
	c.Assert(types.KindOf(err), qt.Equals, types.KindNotAMember)
	c.Assert(relay.submitted, qt.HasLen, 0)

	relay.listErr = fmt.Errorf("connection refused")
	_, err = newMember(c, ids[0], relay).Greet(ctx, "Hello")
	c.Assert(err, qt.ErrorMatches, "could not fetch the membership list: connection refused")

	_, err = New(nil, relay, nil, scope)
	c.Assert(err, qt.ErrorMatches, "missing identity")
}
