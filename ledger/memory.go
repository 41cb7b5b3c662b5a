package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/anonsignal/crypto"
	"github.com/vocdoni/anonsignal/prover"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// confirmationsBuffer is the capacity of every subscriber channel.
const confirmationsBuffer = 256

type subscriber struct {
	mu     sync.Mutex
	ctx    context.Context
	ch     chan *ConfirmationEvent
	closed bool
}

type pendingEvent struct {
	event *ConfirmationEvent
	due   time.Time
}

// Memory is an in-process ledger. It checks every greeting again (proof and
// nullifier uniqueness) before recording it, and confirms recorded greetings
// asynchronously and in order.
type Memory struct {
	verifier     prover.Verifier
	confirmDelay time.Duration

	mu        sync.Mutex
	used      map[string]struct{}
	greetings []*ConfirmationEvent
	failures  int
	drop      bool
	subs      map[int]*subscriber
	nextSub   int

	events chan pendingEvent
	quit   chan struct{}
	once   sync.Once
}

// NewMemory returns a running in-memory ledger. A nil verifier skips the
// proof check. Close must be called to stop it.
func NewMemory(verifier prover.Verifier, confirmDelay time.Duration) *Memory {
	m := &Memory{
		verifier:     verifier,
		confirmDelay: confirmDelay,
		used:         make(map[string]struct{}),
		subs:         make(map[int]*subscriber),
		events:       make(chan pendingEvent, confirmationsBuffer),
		quit:         make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// Close stops the confirmation dispatcher.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.quit) })
}

// FailNext makes the next n calls to Greet fail with types.ErrLedgerUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// DropConfirmations stops (or resumes) emitting confirmation events, the
// greetings are still recorded.
func (m *Memory) DropConfirmations(drop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop = drop
}

// Greet implements Ledger.
func (m *Memory) Greet(ctx context.Context, g *Greeting) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrLedgerUnavailable, err)
	}
	if g == nil || g.NullifierHash == nil {
		return "", fmt.Errorf("%w: incomplete greeting", types.ErrInvalidProof)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return "", fmt.Errorf("%w: injected failure", types.ErrLedgerUnavailable)
	}
	key := g.NullifierHash.String()
	if _, ok := m.used[key]; ok {
		return "", types.ErrNullifierAlreadyUsed
	}
	if m.verifier != nil {
		pub := &types.PublicSignals{
			Root:              g.Root,
			NullifierHash:     g.NullifierHash,
			SignalHash:        types.BigIntFrom(crypto.SignalHash(g.Signal)),
			ExternalNullifier: g.ExternalNullifier,
		}
		if err := m.verifier.Verify(g.Proof, pub); err != nil {
			return "", err
		}
	}
	m.used[key] = struct{}{}

	block := uint64(len(m.greetings) + 1)
	var blockBytes [8]byte
	binary.BigEndian.PutUint64(blockBytes[:], block)
	nh := g.NullifierHash.Bytes32()
	txRef := ethcrypto.Keccak256Hash(g.Signal[:], nh[:], blockBytes[:]).Hex()

	event := &ConfirmationEvent{Signal: g.Signal, TxRef: txRef, Block: block}
	m.greetings = append(m.greetings, event)
	if !m.drop {
		select {
		case m.events <- pendingEvent{event: event, due: time.Now().Add(m.confirmDelay)}:
		default:
			log.Warnw("memory ledger confirmation queue full, dropping event", "txRef", txRef)
		}
	}
	return txRef, nil
}

// Confirmations implements Ledger.
func (m *Memory) Confirmations(ctx context.Context) (<-chan *ConfirmationEvent, error) {
	sub := &subscriber{ctx: ctx, ch: make(chan *ConfirmationEvent, confirmationsBuffer)}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.mu.Lock()
		sub.closed = true
		close(sub.ch)
		sub.mu.Unlock()
	}()
	return sub.ch, nil
}

// Greetings returns the recorded greetings, decoded, in recording order.
func (m *Memory) Greetings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.greetings))
	for _, e := range m.greetings {
		out = append(out, (&Greeting{Signal: e.Signal}).Text())
	}
	return out
}

func (m *Memory) dispatch() {
	for {
		select {
		case <-m.quit:
			return
		case p := <-m.events:
			if wait := time.Until(p.due); wait > 0 {
				select {
				case <-time.After(wait):
				case <-m.quit:
					return
				}
			}
			m.publish(p.event)
		}
	}
}

func (m *Memory) publish(event *ConfirmationEvent) {
	m.mu.Lock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			select {
			case s.ch <- event:
			case <-s.ctx.Done():
			case <-m.quit:
			}
		}
		s.mu.Unlock()
	}
}
