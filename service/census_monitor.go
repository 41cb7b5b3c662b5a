package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/vocdoni/anonsignal/storage/census"
	"github.com/vocdoni/anonsignal/types"
	"go.vocdoni.io/dvote/log"
)

// ErrDivergentCensus is returned when the followed membership list does not
// extend the registered one.
var ErrDivergentCensus = errors.New("membership list diverges from the registered one")

// CommitmentsSource provides an ordered list of identity commitments.
type CommitmentsSource interface {
	Commitments(ctx context.Context) ([]*big.Int, error)
}

// CensusMonitor follows an external membership list and registers the
// commitments appended to it.
type CensusMonitor struct {
	source   CommitmentsSource
	census   *census.CensusDB
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// NewCensusMonitor creates a new CensusMonitor service.
func NewCensusMonitor(source CommitmentsSource, cdb *census.CensusDB, interval time.Duration) *CensusMonitor {
	return &CensusMonitor{
		source:   source,
		census:   cdb,
		interval: interval,
	}
}

// Start begins following the list. It returns an error if the service is
// already running.
func (cm *CensusMonitor) Start(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, cm.cancel = context.WithCancel(ctx)
	go cm.monitor(ctx)
	return nil
}

// Stop halts the monitoring service.
func (cm *CensusMonitor) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.cancel != nil {
		cm.cancel()
		cm.cancel = nil
	}
}

func (cm *CensusMonitor) monitor(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()
	for {
		added, err := cm.Sync(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warnw("failed to sync membership list", "error", err.Error())
		case added > 0:
			log.Infow("membership list synced", "added", added, "size", cm.census.Size())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sync fetches the list once and registers the new commitments. The fetched
// list must start with every registered commitment, in the same order.
func (cm *CensusMonitor) Sync(ctx context.Context) (int, error) {
	remote, err := cm.source.Commitments(ctx)
	if err != nil {
		return 0, err
	}
	local, err := cm.census.Commitments()
	if err != nil {
		return 0, err
	}
	if len(remote) < len(local) {
		return 0, fmt.Errorf("%w: %d commitments, %d registered", ErrDivergentCensus, len(remote), len(local))
	}
	for i, c := range local {
		if remote[i] == nil || remote[i].Cmp(c) != 0 {
			return 0, fmt.Errorf("%w: commitment %d differs", ErrDivergentCensus, i)
		}
	}
	newOnes := remote[len(local):]
	if len(newOnes) == 0 {
		return 0, nil
	}
	if _, err := cm.census.Add(newOnes...); err != nil {
		return 0, err
	}
	return len(newOnes), nil
}

// HTTPCommitmentsSource reads a JSON array of commitments, as decimal or 0x
// prefixed hexadecimal strings, from a URL.
type HTTPCommitmentsSource struct {
	URL    string
	Client *http.Client
}

// Commitments implements CommitmentsSource.
func (s *HTTPCommitmentsSource) Commitments(ctx context.Context) ([]*big.Int, error) {
	cli := s.Client
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch membership list: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close response body", "error", err.Error())
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch membership list: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var list []*types.BigInt
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode membership list: %w", err)
	}
	out := make([]*big.Int, len(list))
	for i, c := range list {
		if c == nil {
			return nil, fmt.Errorf("decode membership list: commitment %d is null", i)
		}
		out[i] = c.MathBigInt()
	}
	return out, nil
}
