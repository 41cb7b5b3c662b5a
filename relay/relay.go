// Package relay verifies anonymous signals and forwards the accepted ones to
// the ledger. A submission goes through Received, ProofChecked,
// NullifierChecked, Forwarded and Confirmed, or is Rejected at any of these
// checkpoints. Nullifiers are consumed before forwarding, and accepted
// messages are persisted in a queue, so forwarding is retried without ever
// checking the proof or the nullifier again.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/storage"
	"github.com/vocdoni/anonsignal/storage/nullifiers"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

const (
	DefaultConfirmationTimeout = 60 * time.Second
	DefaultQueueInterval       = time.Second
	DefaultRetryInitial        = 500 * time.Millisecond
	DefaultRetryMaxInterval    = 10 * time.Second
	DefaultRetryMaxAttempts    = 5
)

// State is a checkpoint of the submission state machine.
type State int

const (
	StateReceived State = iota
	StateProofChecked
	StateNullifierChecked
	StateForwarded
	StateConfirmed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateProofChecked:
		return "proofChecked"
	case StateNullifierChecked:
		return "nullifierChecked"
	case StateForwarded:
		return "forwarded"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RootChecker tells whether a membership root is accepted.
type RootChecker interface {
	IsKnownRoot(root *big.Int) bool
}

// RetryPolicy bounds the forwarding retries of a job during a pass of the
// forwarder. Jobs whose pass is exhausted stay in the queue.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

// Config holds the relay parameters.
type Config struct {
	// ExternalNullifier is the scope every accepted proof must be bound to.
	ExternalNullifier   *big.Int
	ConfirmationTimeout time.Duration
	QueueInterval       time.Duration
	Retry               RetryPolicy
}

func (c *Config) setDefaults() {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.QueueInterval <= 0 {
		c.QueueInterval = DefaultQueueInterval
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = DefaultRetryInitial
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = DefaultRetryMaxInterval
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
}

// Submission is a signal as it arrives at the relay.
type Submission struct {
	Signal        string
	NullifierHash *types.BigInt
	Root          *types.BigInt
	Proof         types.SolidityProof
}

// Receipt is the result of a confirmed submission.
type Receipt struct {
	ID     string `json:"id"`
	Signal string `json:"greeting"`
	TxRef  string `json:"txRef"`
	State  State  `json:"-"`
}

// Relay is the verifier of submissions and the forwarder of accepted ones.
type Relay struct {
	cfg        Config
	stg        *storage.Storage
	roots      RootChecker
	verifier   prover.Verifier
	nullifiers nullifiers.Registry
	ledger     ledger.Ledger
	correlator *Correlator
	metrics    *Metrics

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
}

// New returns a relay. Start must be called for accepted messages to be
// forwarded.
func New(cfg Config, stg *storage.Storage, roots RootChecker, verifier prover.Verifier,
	registry nullifiers.Registry, l ledger.Ledger,
) (*Relay, error) {
	switch {
	case stg == nil:
		return nil, fmt.Errorf("storage cannot be nil")
	case roots == nil:
		return nil, fmt.Errorf("root checker cannot be nil")
	case verifier == nil:
		return nil, fmt.Errorf("verifier cannot be nil")
	case registry == nil:
		return nil, fmt.Errorf("nullifier registry cannot be nil")
	case l == nil:
		return nil, fmt.Errorf("ledger cannot be nil")
	case cfg.ExternalNullifier == nil:
		return nil, fmt.Errorf("external nullifier not configured")
	}
	cfg.setDefaults()
	return &Relay{
		cfg:        cfg,
		stg:        stg,
		roots:      roots,
		verifier:   verifier,
		nullifiers: registry,
		ledger:     l,
		correlator: NewCorrelator(),
		metrics:    NewMetrics(),
		wake:       make(chan struct{}, 1),
	}, nil
}

// Metrics returns the relay meters.
func (r *Relay) Metrics() *Metrics {
	return r.metrics
}

// Receipt returns the forwarding receipt of a submission by its id.
func (r *Relay) Receipt(id string) (*storage.ForwardReceipt, error) {
	return r.stg.ForwardReceipt(id)
}

// Submit runs a submission through the state machine and waits for its
// confirmation. Errors wrap the protocol taxonomy: types.ErrMalformedSignal,
// types.ErrInvalidProof and types.ErrNullifierAlreadyUsed reject the
// submission without side effects beyond the consumed nullifier in the last
// case; types.ErrLedgerUnavailable and types.ErrConfirmationTimeout are
// returned for accepted messages that stay queued for forwarding. Errors
// outside the taxonomy, such as a verifier or storage failure, leave the
// nullifier unconsumed.
func (r *Relay) Submit(ctx context.Context, sub *Submission) (*Receipt, error) {
	receipt, err := r.submit(ctx, sub)
	outcome := StateConfirmed.String()
	if err != nil {
		outcome = types.KindOf(err).String()
	}
	r.metrics.Submissions.WithLabelValues(outcome).Inc()
	return receipt, err
}

func (r *Relay) submit(ctx context.Context, sub *Submission) (*Receipt, error) {
	// Received
	if sub == nil {
		return nil, fmt.Errorf("%w: empty submission", types.ErrInvalidProof)
	}
	signal, err := types.EncodeSignal(sub.Signal)
	if err != nil {
		return nil, err
	}
	if sub.Root == nil || sub.NullifierHash == nil {
		return nil, fmt.Errorf("%w: missing root or nullifier hash", types.ErrInvalidProof)
	}

	// Received -> ProofChecked
	if !r.roots.IsKnownRoot(sub.Root.MathBigInt()) {
		return nil, fmt.Errorf("%w: unknown membership root", types.ErrInvalidProof)
	}
	pub := &types.PublicSignals{
		Root:              sub.Root,
		NullifierHash:     sub.NullifierHash,
		SignalHash:        types.BigIntFrom(crypto.SignalHash(signal)),
		ExternalNullifier: types.BigIntFrom(r.cfg.ExternalNullifier),
	}
	startTime := time.Now()
	err = r.verifier.Verify(sub.Proof, pub)
	r.metrics.VerifyDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		if errors.Is(err, types.ErrInvalidProof) {
			return nil, err
		}
		// not a verdict on the proof, the member may submit it again
		log.Errorw(err, "proof verification failed")
		return nil, fmt.Errorf("proof verification failed: %w", err)
	}

	// ProofChecked -> NullifierChecked: the job is stored held before the
	// nullifier is consumed, and only released to the forwarder after it,
	// so a consumed nullifier always has a queued message
	id := uuid.New().String()
	job := &storage.ForwardJob{
		ID:                id,
		Signal:            signal[:],
		NullifierHash:     sub.NullifierHash,
		Root:              sub.Root,
		ExternalNullifier: pub.ExternalNullifier,
		Proof:             sub.Proof,
	}
	key, err := r.stg.HoldForwardJob(job)
	if err != nil {
		log.Errorw(err, "failed to queue message")
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}
	if err := r.nullifiers.Consume(ctx, sub.NullifierHash.MathBigInt()); err != nil {
		if err := r.stg.MarkForwardJobDone(key, nil); err != nil {
			log.Errorw(err, "failed to drop held forward job")
		}
		return nil, err
	}

	// NullifierChecked -> Forwarded: a failure from here on never releases
	// the nullifier
	future := r.correlator.Expect(id, signal)
	if err := r.stg.ReleaseForwardJob(key, job); err != nil {
		// the job is released by RecoverForwardJobs on the next start
		log.Errorw(err, "failed to release accepted message")
	}
	r.metrics.QueueDepth.Inc()
	r.notify()
	log.Debugw("message accepted", "id", id)

	// Forwarded -> Confirmed
	txRef, err := future.Wait(ctx, r.cfg.ConfirmationTimeout)
	if err != nil {
		r.correlator.Cancel(id)
		if errors.Is(err, types.ErrConfirmationTimeout) {
			log.Warnw("confirmation timeout", "id", id)
		}
		return &Receipt{ID: id, Signal: sub.Signal, State: StateRejected}, err
	}
	return &Receipt{ID: id, Signal: sub.Signal, TxRef: txRef, State: StateConfirmed}, nil
}

func (r *Relay) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
