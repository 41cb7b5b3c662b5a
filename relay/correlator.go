package relay

import (
	"context"
	"sync"
	"time"

	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/types"
)

// orphanTTL is how long a confirmation that matched no submission is kept,
// waiting for the forwarder to report its transaction reference.
const orphanTTL = 5 * time.Minute

// Match reports how a confirmation was correlated.
type Match string

const (
	MatchTxRef   Match = "txref"
	MatchContent Match = "content"
	MatchNone    Match = "none"
)

// Future is the pending result of a submission: the transaction reference
// of its confirmation or the error that ended it.
type Future struct {
	ID     string
	signal [types.SignalEncodedLen]byte
	txRef  string

	once  sync.Once
	done  chan struct{}
	value string
	err   error
}

func (f *Future) resolve(txRef string, err error) {
	f.once.Do(func() {
		f.value, f.err = txRef, err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved, the timeout expires or ctx is
// done. A timeout returns types.ErrConfirmationTimeout.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		return "", types.ErrConfirmationTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type orphan struct {
	event *ledger.ConfirmationEvent
	seen  time.Time
}

// Correlator matches ledger confirmations to the submissions waiting for
// them. A submission is identified by a relay assigned id; confirmations are
// matched by the transaction reference the ledger returned when the greeting
// was forwarded, and otherwise by content, to the oldest waiting submission
// of the same signal whose reference is not known yet.
type Correlator struct {
	mu      sync.Mutex
	futures map[string]*Future
	order   []*Future
	byTx    map[string]*Future
	orphans map[string]orphan
}

// NewCorrelator returns an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		futures: make(map[string]*Future),
		byTx:    make(map[string]*Future),
		orphans: make(map[string]orphan),
	}
}

// Expect registers a submission that will be forwarded.
func (c *Correlator) Expect(id string, signal [types.SignalEncodedLen]byte) *Future {
	f := &Future{ID: id, signal: signal, done: make(chan struct{})}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.futures[id] = f
	c.order = append(c.order, f)
	return f
}

// Forwarded records the transaction reference of a forwarded submission. If
// its confirmation already arrived, the submission is resolved.
func (c *Correlator) Forwarded(id, txRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.futures[id]
	if !ok {
		return
	}
	if o, ok := c.orphans[txRef]; ok {
		delete(c.orphans, txRef)
		c.removeLocked(f)
		f.resolve(o.event.TxRef, nil)
		return
	}
	f.txRef = txRef
	c.byTx[txRef] = f
}

// Confirm correlates a confirmation event. Events that match nothing are
// kept for a while, in case their submission is forwarded later.
func (c *Correlator) Confirm(ev *ledger.ConfirmationEvent) Match {
	if ev == nil {
		return MatchNone
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.byTx[ev.TxRef]; ok {
		c.removeLocked(f)
		f.resolve(ev.TxRef, nil)
		return MatchTxRef
	}
	for _, f := range c.order {
		if f.txRef == "" && f.signal == ev.Signal {
			c.removeLocked(f)
			f.resolve(ev.TxRef, nil)
			return MatchContent
		}
	}
	c.pruneLocked(time.Now())
	c.orphans[ev.TxRef] = orphan{event: ev, seen: time.Now()}
	return MatchNone
}

// Fail resolves the submission with an error.
func (c *Correlator) Fail(id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.futures[id]; ok {
		c.removeLocked(f)
		f.resolve("", err)
	}
}

// Cancel forgets a submission, its waiter gave up.
func (c *Correlator) Cancel(id string) {
	c.Fail(id, context.Canceled)
}

// Pending returns the number of submissions waiting for a confirmation.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.futures)
}

func (c *Correlator) removeLocked(f *Future) {
	delete(c.futures, f.ID)
	if f.txRef != "" {
		delete(c.byTx, f.txRef)
	}
	for i, o := range c.order {
		if o == f {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Correlator) pruneLocked(now time.Time) {
	for k, o := range c.orphans {
		if now.Sub(o.seen) > orphanTTL {
			delete(c.orphans, k)
		}
	}
}
