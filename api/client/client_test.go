package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/anonsignal/api"
	"github.com/vocdoni/anonsignal/types"
)

func testBundle(nullifier int64) *types.ProofBundle {
	b := &types.ProofBundle{
		PublicSignals: types.PublicSignals{
			Root:          types.NewInt(100),
			NullifierHash: types.NewInt(nullifier),
		},
	}
	for i := range b.Proof {
		b.Proof[i] = types.NewInt(int64(i + 1))
	}
	return b
}

// fakeRelay answers greetings by nullifier: 1 is confirmed, 2 is a replay,
// 3 an unexpected failure.
func fakeRelay(c *qt.C) *httptest.Server {
	r := chi.NewRouter()
	r.Get(api.PingEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post(api.GreetEndpoint, func(w http.ResponseWriter, r *http.Request) {
		req := &api.GreetRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			api.ErrMalformedBody.WithErr(err).Write(w)
			return
		}
		switch req.NullifierHash.MathBigInt().Int64() {
		case 1:
			c.Check(req.MerkleTreeRoot.MathBigInt().Int64(), qt.Equals, int64(100))
			c.Check(req.SolidityProof[7].MathBigInt().Int64(), qt.Equals, int64(8))
			_ = json.NewEncoder(w).Encode(&api.GreetResponse{ID: "id-1", Greeting: req.Greeting, TxRef: "0xabc"})
		case 2:
			api.ErrNullifierAlreadyUsed.Write(w)
		default:
			api.ErrGenericInternalServerError.Write(w)
		}
	})
	r.Get(api.CensusCommitmentsEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(&api.CensusCommitments{
			Commitments: []*types.BigInt{types.NewInt(5), types.NewInt(6)},
			Version:     2,
			Root:        types.NewInt(100),
		})
	})
	r.Post(api.CensusCommitmentsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			api.ErrUnauthorized.Write(w)
			return
		}
		_ = json.NewEncoder(w).Encode(&api.CensusRoot{Root: types.NewInt(101), Size: 3, Depth: 20})
	})
	r.Get(api.GreetReceiptEndpoint, func(w http.ResponseWriter, r *http.Request) {
		api.ErrResourceNotFound.Write(w)
	})
	srv := httptest.NewServer(r)
	c.Cleanup(srv.Close)
	return srv
}

func TestSubmit(t *testing.T) {
	c := qt.New(t)
	cli, err := New(fakeRelay(c).URL)
	c.Assert(err, qt.IsNil)
	ctx := context.Background()

	handle, err := cli.Submit(ctx, testBundle(1), "Hello")
	c.Assert(err, qt.IsNil)
	c.Assert(handle, qt.DeepEquals, &SubmissionHandle{ID: "id-1", Signal: "Hello", TxRef: "0xabc"})

	_, err = cli.Submit(ctx, testBundle(2), "Hello")
	c.Assert(types.KindOf(err), qt.Equals, types.KindNullifierAlreadyUsed)
	c.Assert(err.Error(), qt.Equals, "nullifier already used")

	_, err = cli.Submit(ctx, testBundle(3), "Hello")
	c.Assert(types.KindOf(err), qt.Equals, types.KindUnknown)
	c.Assert(err, qt.ErrorMatches, ".*internal server error.*")
}

func TestCensusCalls(t *testing.T) {
	c := qt.New(t)
	cli, err := New(fakeRelay(c).URL)
	c.Assert(err, qt.IsNil)
	ctx := context.Background()

	list, err := cli.Commitments(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(list.Version, qt.Equals, uint64(2))
	c.Assert(list.Commitments[1].MathBigInt().Int64(), qt.Equals, int64(6))

	_, err = cli.AddCommitments(ctx, types.NewInt(7))
	c.Assert(err, qt.ErrorMatches, ".*invalid admin token.*")
	cli.SetAdminToken("secret")
	root, err := cli.AddCommitments(ctx, types.NewInt(7))
	c.Assert(err, qt.IsNil)
	c.Assert(root.Size, qt.Equals, uint64(3))

	_, err = cli.Receipt(ctx, "missing")
	c.Assert(IsNotFound(err), qt.IsTrue)
}

func TestRequestRetries(t *testing.T) {
	c := qt.New(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL)
	c.Assert(err, qt.ErrorMatches, "API error: 500.*")
	// an answer, even an error one, is never retried
	c.Assert(calls.Load(), qt.Equals, int32(1))

	// nothing listens on the address, every attempt fails
	srv.Close()
	cli := &HTTPclient{c: &http.Client{Timeout: time.Second}, host: mustParse(c, srv.URL), retries: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = cli.Request(ctx, HTTPGET, nil, nil, api.PingEndpoint)
	c.Assert(err, qt.ErrorMatches, "http request ultimately failed after retries.*")

	_, err = cli.Submit(ctx, testBundle(1), "Hello")
	c.Assert(types.KindOf(err), qt.Equals, types.KindLedgerUnavailable)
}

func mustParse(c *qt.C, raw string) *url.URL {
	u, err := url.Parse(raw)
	c.Assert(err, qt.IsNil)
	return u
}
