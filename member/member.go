// Package member runs the member side of the protocol: it builds the proof
// that an identity belongs to the published membership set and submits an
// anonymous signal with it.
package member

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vocdoni/anonsignal/api"
	"github.com/vocdoni/anonsignal/api/client"
	"github.com/vocdoni/anonsignal/identity"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// Relay is the part of the relay API a member talks to. client.HTTPclient
// implements it.
type Relay interface {
	Commitments(ctx context.Context) (*api.CensusCommitments, error)
	Submit(ctx context.Context, bundle *types.ProofBundle, signal string) (*client.SubmissionHandle, error)
}

// Member sends signals on behalf of an identity.
type Member struct {
	id                *identity.Identity
	relay             Relay
	generator         *prover.Generator
	externalNullifier *big.Int
}

// New returns a member for the identity. externalNullifier is the scope of
// the signals, it must match the one configured in the relay.
func New(id *identity.Identity, relay Relay, generator *prover.Generator, externalNullifier *big.Int) (*Member, error) {
	switch {
	case id == nil:
		return nil, fmt.Errorf("missing identity")
	case relay == nil:
		return nil, fmt.Errorf("missing relay")
	case generator == nil:
		return nil, fmt.Errorf("missing proof generator")
	case externalNullifier == nil:
		return nil, fmt.Errorf("missing external nullifier")
	}
	return &Member{
		id:                id,
		relay:             relay,
		generator:         generator,
		externalNullifier: externalNullifier,
	}, nil
}

// Identity returns the member identity.
func (m *Member) Identity() *identity.Identity {
	return m.id
}

// Bundle builds the proof bundle of a signal against the membership list
// currently published by the relay.
func (m *Member) Bundle(ctx context.Context, signal string) (*types.ProofBundle, error) {
	if _, err := types.EncodeSignal(signal); err != nil {
		return nil, err
	}
	list, err := m.relay.Commitments(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch the membership list: %w", err)
	}
	commitments := make([]*big.Int, len(list.Commitments))
	for i, c := range list.Commitments {
		commitments[i] = c.MathBigInt()
	}
	proof, err := census.BuildProof(m.id.Commitment(), commitments, m.generator.Depth())
	if err != nil {
		return nil, err
	}
	if list.Root != nil && !list.Root.Equal(proof.Root) {
		// the list grew between both reads, the relay accepts recent roots
		log.Debugw("membership root moved", "published", list.Root.String(), "proof", proof.Root.String())
	}

	startTime := time.Now()
	bundle, err := m.generator.Generate(ctx, m.id, proof, signal, m.externalNullifier)
	if err != nil {
		return nil, err
	}
	log.Debugw("proof bundle ready", "took", time.Since(startTime).String(), "root", proof.Root.String())
	return bundle, nil
}

// Greet proves membership and submits the signal, returning once the relay
// confirmed it. Errors are classified with types.KindOf.
func (m *Member) Greet(ctx context.Context, signal string) (*client.SubmissionHandle, error) {
	bundle, err := m.Bundle(ctx, signal)
	if err != nil {
		return nil, err
	}
	return m.relay.Submit(ctx, bundle, signal)
}
