// Package prover turns a member identity, its membership proof and a signal
// into a zero-knowledge proof bundle, and verifies such bundles on the relay
// side.
package prover

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/vocdoni/anonsignal/circuits/signalproof"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/identity"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the number of proofs a Generator computes at the
// same time when no other limit is set.
const DefaultMaxConcurrent = 2

// Verifier checks a packed proof against its public signals. It returns an
// error wrapping types.ErrInvalidProof when the proof does not hold.
type Verifier interface {
	Verify(proof types.SolidityProof, pub *types.PublicSignals) error
}

// Backend is the proving system. Prove is expected to be CPU bound and is
// never called with more than the configured number of concurrent calls.
type Backend interface {
	Verifier
	Depth() int
	Prove(ctx context.Context, in *signalproof.Inputs) (types.SolidityProof, error)
}

// Generator computes proof bundles on top of a Backend, bounding the number
// of concurrent proving operations.
type Generator struct {
	backend Backend
	sem     *semaphore.Weighted
}

// NewGenerator returns a generator for the backend. maxConcurrent <= 0 means
// DefaultMaxConcurrent.
func NewGenerator(backend Backend, maxConcurrent int) (*Generator, error) {
	if backend == nil {
		return nil, fmt.Errorf("proving backend cannot be nil")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Generator{
		backend: backend,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}, nil
}

// Depth returns the tree depth the backend proves for.
func (g *Generator) Depth() int {
	return g.backend.Depth()
}

// Generate builds the proof bundle of a signal. Errors wrap
// types.ErrMalformedSignal, types.ErrNotAMember or types.ErrProvingFailed,
// or are the context error if ctx is done before the proof is ready.
func (g *Generator) Generate(ctx context.Context, id *identity.Identity, proof *types.MerkleProof,
	signal string, externalNullifier *big.Int,
) (*types.ProofBundle, error) {
	encoded, err := types.EncodeSignal(signal)
	if err != nil {
		return nil, err
	}
	if proof != nil && len(proof.Siblings) != g.backend.Depth() {
		return nil, fmt.Errorf("%w: membership proof depth %d, circuit depth %d",
			types.ErrProvingFailed, len(proof.Siblings), g.backend.Depth())
	}
	in, err := signalproof.NewInputs(id, proof, crypto.SignalHash(encoded), externalNullifier)
	if err != nil {
		if errors.Is(err, types.ErrNotAMember) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrProvingFailed, err)
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	startTime := time.Now()
	packed, err := g.backend.Prove(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, types.ErrProvingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrProvingFailed, err)
	}
	log.Debugw("signal proof generated", "took", time.Since(startTime).String())

	return &types.ProofBundle{
		Proof:         packed,
		PublicSignals: *in.PublicSignals(),
	}, nil
}
