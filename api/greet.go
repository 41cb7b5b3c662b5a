package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/anonsignal/relay"
	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// greet runs a greeting through the relay and answers once the ledger
// confirmed it. Rejections answer with the short reason of the failure.
func (a *API) greet(w http.ResponseWriter, r *http.Request) {
	req := &GreetRequest{}
	if err := decodeBody(w, r, req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.NullifierHash == nil {
		ErrMalformedBody.With("missing nullifierHash").Write(w)
		return
	}
	// proofs built against the current group may omit the root
	if req.MerkleTreeRoot == nil {
		req.MerkleTreeRoot = types.BigIntFrom(a.census.Root())
	}
	if err := req.SolidityProof.Valid(); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}

	receipt, err := a.relay.Submit(r.Context(), &relay.Submission{
		Signal:        req.Greeting,
		NullifierHash: req.NullifierHash,
		Root:          req.MerkleTreeRoot,
		Proof:         req.SolidityProof,
	})
	if err != nil {
		apiErr := ErrorFor(err)
		if types.KindOf(err) == types.KindUnknown {
			log.Warnw("greeting failed", "error", err.Error())
		}
		apiErr.Write(w)
		return
	}
	httpWriteJSON(w, &GreetResponse{
		ID:       receipt.ID,
		Greeting: receipt.Signal,
		TxRef:    receipt.TxRef,
	})
}

// greetReceipt returns the forwarding receipt of a greeting. Unknown ids
// and greetings still waiting in the forward queue are not found.
func (a *API) greetReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, GreetURLParam)
	if id == "" {
		ErrResourceNotFound.With("missing greeting id").Write(w)
		return
	}
	receipt, err := a.relay.Receipt(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrResourceNotFound.Withf("no receipt for greeting %s", id).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &GreetReceipt{
		ID:        receipt.ID,
		Forwarded: receipt.TxRef != "",
		TxRef:     receipt.TxRef,
		Error:     receipt.Error,
		DoneAt:    receipt.DoneAt,
	})
}
