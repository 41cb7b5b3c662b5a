package service

import (
	"context"

	"github.com/vocdoni/anonsignal/relay"
)

// RelayService runs the background routines of the relay: the forwarder of
// accepted messages and the ledger confirmation monitor.
type RelayService struct {
	relay *relay.Relay
}

// NewRelay wraps a relay in a service.
func NewRelay(r *relay.Relay) *RelayService {
	return &RelayService{relay: r}
}

// Start launches the relay routines. It returns an error if the service is
// already running.
func (rs *RelayService) Start(ctx context.Context) error {
	return rs.relay.Start(ctx)
}

// Stop halts the relay routines. Queued messages are kept for the next run.
func (rs *RelayService) Stop() {
	rs.relay.Stop()
}

// Relay returns the wrapped relay.
func (rs *RelayService) Relay() *relay.Relay {
	return rs.relay
}
