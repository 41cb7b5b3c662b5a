package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/anonsignal/api"
	"github.com/vocdoni/anonsignal/relay"
	"github.com/vocdoni/anonsignal/storage/census"
	"go.vocdoni.io/dvote/log"
)

const apiShutdownTimeout = 10 * time.Second

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	relay      *relay.Relay
	census     *census.CensusDB
	api        *api.API
	mu         sync.Mutex
	cancel     context.CancelFunc
	host       string
	port       int
	adminToken string
}

// NewAPI creates a new APIService instance.
func NewAPI(r *relay.Relay, cdb *census.CensusDB, host string, port int, adminToken string) *APIService {
	return &APIService{
		relay:      r,
		census:     cdb,
		host:       host,
		port:       port,
		adminToken: adminToken,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}

	_, as.cancel = context.WithCancel(ctx)

	var err error
	as.api, err = api.New(&api.APIConfig{
		Host:       as.host,
		Port:       as.port,
		Relay:      as.relay,
		Census:     as.census,
		AdminToken: as.adminToken,
	})
	if err != nil {
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel == nil {
		return
	}
	as.cancel()
	as.cancel = nil
	ctx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer cancel()
	if err := as.api.Close(ctx); err != nil {
		log.Warnw("API server shutdown", "error", err.Error())
	}
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
