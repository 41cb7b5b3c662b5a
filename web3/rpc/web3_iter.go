package rpc

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Web3Endpoint is a web3 provider of a chain.
type Web3Endpoint struct {
	ChainID uint64 `json:"chainId"`
	URI     string `json:"uri"`
	client  *ethclient.Client
}

// Web3Iterator hands out the endpoints of a chain in round robin order,
// skipping the disabled ones.
type Web3Iterator struct {
	mu        sync.Mutex
	available []*Web3Endpoint
	disabled  []*Web3Endpoint
	next      int
}

// NewWeb3Iterator returns an iterator over the endpoints provided.
func NewWeb3Iterator(endpoints ...*Web3Endpoint) *Web3Iterator {
	return &Web3Iterator{available: endpoints}
}

// Add appends endpoints to the available ones.
func (w *Web3Iterator) Add(endpoints ...*Web3Endpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.available = append(w.available, endpoints...)
}

// Next returns the next available endpoint. When every endpoint is disabled
// they are all enabled again.
func (w *Web3Iterator) Next() (*Web3Endpoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.available) == 0 {
		w.available, w.disabled = w.disabled, nil
		w.next = 0
	}
	if len(w.available) == 0 {
		return nil, fmt.Errorf("no web3 endpoint available")
	}
	if w.next >= len(w.available) {
		w.next = 0
	}
	endpoint := w.available[w.next]
	w.next++
	return endpoint, nil
}

// Disable moves the endpoint with the URI provided to the disabled list.
func (w *Web3Iterator) Disable(uri string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, e := range w.available {
		if e.URI == uri {
			w.available = append(w.available[:i], w.available[i+1:]...)
			w.disabled = append(w.disabled, e)
			if w.next > i {
				w.next--
			}
			return
		}
	}
}

// Available returns the number of available endpoints.
func (w *Web3Iterator) Available() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.available)
}

// Disabled returns the number of disabled endpoints.
func (w *Web3Iterator) Disabled() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.disabled)
}

func (w *Web3Iterator) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range append(w.available, w.disabled...) {
		if e.client != nil {
			e.client.Close()
		}
	}
}
