package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonsignal/ledger"
	"github.com/vocdoni/anonsignal/types"
)

func encoded(c *qt.C, text string) [types.SignalEncodedLen]byte {
	s, err := types.EncodeSignal(text)
	c.Assert(err, qt.IsNil)
	return s
}

func resolved(c *qt.C, f *Future) (string, error) {
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		c.Fatalf("future %s not resolved", f.ID)
	}
	return f.Wait(context.Background(), time.Second)
}

func TestCorrelatorTxRef(t *testing.T) {
	c := qt.New(t)
	cr := NewCorrelator()
	hello := encoded(c, "Hello")
	a := cr.Expect("a", hello)
	b := cr.Expect("b", hello)
	cr.Forwarded("a", "0x01")
	cr.Forwarded("b", "0x02")

	// b confirmed first, matched by reference and not by order
	c.Assert(cr.Confirm(&ledger.ConfirmationEvent{Signal: hello, TxRef: "0x02"}), qt.Equals, MatchTxRef)
	ref, err := resolved(c, b)
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.Equals, "0x02")
	c.Assert(cr.Pending(), qt.Equals, 1)

	c.Assert(cr.Confirm(&ledger.ConfirmationEvent{Signal: hello, TxRef: "0x01"}), qt.Equals, MatchTxRef)
	ref, err = resolved(c, a)
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.Equals, "0x01")
	c.Assert(cr.Pending(), qt.Equals, 0)
}

func TestCorrelatorContent(t *testing.T) {
	c := qt.New(t)
	cr := NewCorrelator()
	a := cr.Expect("a", encoded(c, "Hello"))
	b := cr.Expect("b", encoded(c, "World"))
	a2 := cr.Expect("a2", encoded(c, "Hello"))

	// confirmations that arrive before the reference is known match by
	// content, oldest first
	c.Assert(cr.Confirm(&ledger.ConfirmationEvent{Signal: encoded(c, "World"), TxRef: "0xb"}), qt.Equals, MatchContent)
	c.Assert(cr.Confirm(&ledger.ConfirmationEvent{Signal: encoded(c, "Hello"), TxRef: "0xa"}), qt.Equals, MatchContent)
	ref, err := resolved(c, a)
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.Equals, "0xa")
	ref, err = resolved(c, b)
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.Equals, "0xb")

	select {
	case <-a2.Done():
		c.Fatal("a2 should still be pending")
	default:
	}
	// late report of a resolved submission is ignored
	cr.Forwarded("a", "0xa")
	c.Assert(cr.Pending(), qt.Equals, 1)
}

func TestCorrelatorOrphan(t *testing.T) {
	c := qt.New(t)
	cr := NewCorrelator()
	hello := encoded(c, "Hello")

	// a confirmation nobody waits for yet
	c.Assert(cr.Confirm(&ledger.ConfirmationEvent{Signal: hello, TxRef: "0x01"}), qt.Equals, MatchNone)

	f := cr.Expect("a", hello)
	cr.Forwarded("a", "0x01")
	ref, err := resolved(c, f)
	c.Assert(err, qt.IsNil)
	c.Assert(ref, qt.Equals, "0x01")
}

func TestCorrelatorFailAndTimeout(t *testing.T) {
	c := qt.New(t)
	cr := NewCorrelator()
	f := cr.Expect("a", encoded(c, "Hello"))
	cr.Fail("a", types.ErrLedgerUnavailable)
	_, err := resolved(c, f)
	c.Assert(errors.Is(err, types.ErrLedgerUnavailable), qt.IsTrue)
	c.Assert(cr.Pending(), qt.Equals, 0)

	g := cr.Expect("b", encoded(c, "Hello"))
	_, err = g.Wait(context.Background(), 10*time.Millisecond)
	c.Assert(errors.Is(err, types.ErrConfirmationTimeout), qt.IsTrue)
	cr.Cancel("b")
	c.Assert(cr.Pending(), qt.Equals, 0)
}
