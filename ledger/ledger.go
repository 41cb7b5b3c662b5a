// Package ledger defines where accepted signals end up: an append-only
// record that confirms every greeting with an event. The relay forwards to a
// Ledger and correlates its confirmations.
package ledger

import (
	"context"
	"fmt"

	"github.com/vocdoni/anonsignal/types"
)

// Greeting is a signal ready to be recorded, with everything the ledger needs
// to check it again.
type Greeting struct {
	Signal            [types.SignalEncodedLen]byte
	Root              *types.BigInt
	NullifierHash     *types.BigInt
	ExternalNullifier *types.BigInt
	Proof             types.SolidityProof
}

// Text returns the decoded signal, or its hex form if it does not decode.
func (g *Greeting) Text() string {
	text, err := types.DecodeSignal(g.Signal)
	if err != nil {
		return fmt.Sprintf("%x", g.Signal)
	}
	return text
}

// ConfirmationEvent is emitted by the ledger once a greeting is recorded.
// TxRef is the reference returned by Greet for the same greeting.
type ConfirmationEvent struct {
	Signal [types.SignalEncodedLen]byte
	TxRef  string
	Block  uint64
}

// Ledger records greetings. Greet returns once the greeting has been accepted
// for recording, the confirmation arrives later on the channel returned by
// Confirmations. Greet errors wrap types.ErrLedgerUnavailable when the
// ledger cannot be reached, types.ErrNullifierAlreadyUsed or
// types.ErrInvalidProof when the ledger rejects the greeting.
type Ledger interface {
	Greet(ctx context.Context, g *Greeting) (txRef string, err error)
	// Confirmations subscribes to confirmation events until ctx is done,
	// then the channel is closed.
	Confirmations(ctx context.Context) (<-chan *ConfirmationEvent, error)
}
