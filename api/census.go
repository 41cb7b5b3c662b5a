package api

import (
	"crypto/subtle"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// censusRoot returns the current membership root.
func (a *API) censusRoot(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &CensusRoot{
		Root:  types.BigIntFrom(a.census.Root()),
		Size:  a.census.Size(),
		Depth: a.census.Depth(),
	})
}

// censusCommitments publishes the membership list members build their
// proofs from.
func (a *API) censusCommitments(w http.ResponseWriter, r *http.Request) {
	commitments, err := a.census.Commitments()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	res := &CensusCommitments{
		Commitments: make([]*types.BigInt, len(commitments)),
		Version:     uint64(len(commitments)),
		Root:        types.BigIntFrom(a.census.Root()),
	}
	for i, c := range commitments {
		res.Commitments[i] = types.BigIntFrom(c)
	}
	httpWriteJSON(w, res)
}

// addCensusCommitments registers identity commitments, all of them or none.
func (a *API) addCensusCommitments(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		ErrUnauthorized.Write(w)
		return
	}
	req := &CensusCommitments{}
	if err := decodeBody(w, r, req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if len(req.Commitments) == 0 {
		ErrMalformedBody.With("no commitments").Write(w)
		return
	}
	commitments := make([]*big.Int, len(req.Commitments))
	for i, c := range req.Commitments {
		if c == nil || c.MathBigInt().Sign() < 0 || c.MathBigInt().Cmp(crypto.FieldModulus) >= 0 {
			ErrMalformedBody.Withf("commitment %d is not a field element", i).Write(w)
			return
		}
		commitments[i] = c.MathBigInt()
	}
	root, err := a.census.Add(commitments...)
	if err != nil {
		if errors.Is(err, census.ErrCommitmentExists) {
			ErrCommitmentExists.WithErr(err).Write(w)
			return
		}
		log.Warnw("failed to register commitments", "error", err.Error())
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &CensusRoot{
		Root:  types.BigIntFrom(root),
		Size:  a.census.Size(),
		Depth: a.census.Depth(),
	})
}

// authorized checks the bearer token against the admin token, if any.
func (a *API) authorized(r *http.Request) bool {
	if a.adminToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) == 1
}
