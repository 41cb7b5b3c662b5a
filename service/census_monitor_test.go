package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// listServer serves a JSON membership list that tests can replace.
type listServer struct {
	mu   sync.Mutex
	list []string
}

func (s *listServer) set(list ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = list
}

func (s *listServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, `["%s"]`, strings.Join(s.list, `","`))
}

func TestCensusMonitorSync(t *testing.T) {
	c := qt.New(t)
	_, cdb := newTestRelay(c)
	ls := &listServer{}
	ls.set("1", "2")
	srv := httptest.NewServer(ls)
	defer srv.Close()

	monitor := NewCensusMonitor(&HTTPCommitmentsSource{URL: srv.URL}, cdb, time.Hour)
	ctx := context.Background()

	added, err := monitor.Sync(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(added, qt.Equals, 2)
	added, err = monitor.Sync(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(added, qt.Equals, 0)

	ls.set("1", "2", "0x3")
	added, err = monitor.Sync(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(added, qt.Equals, 1)
	commitments, err := cdb.Commitments()
	c.Assert(err, qt.IsNil)
	c.Assert(commitments[2].Cmp(big.NewInt(3)), qt.Equals, 0)

	// the list is rewritten, nothing is registered
	ls.set("1", "5", "3", "4")
	_, err = monitor.Sync(ctx)
	c.Assert(errors.Is(err, ErrDivergentCensus), qt.IsTrue)
	ls.set("1")
	_, err = monitor.Sync(ctx)
	c.Assert(errors.Is(err, ErrDivergentCensus), qt.IsTrue)
	c.Assert(cdb.Size(), qt.Equals, uint64(3))

	ls.set("1", "2", "3", "not a number")
	_, err = monitor.Sync(ctx)
	c.Assert(err, qt.ErrorMatches, "decode membership list.*")
}

func TestCensusMonitorFollow(t *testing.T) {
	c := qt.New(t)
	_, cdb := newTestRelay(c)
	ls := &listServer{}
	ls.set("1")
	srv := httptest.NewServer(ls)
	defer srv.Close()

	monitor := NewCensusMonitor(&HTTPCommitmentsSource{URL: srv.URL}, cdb, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Assert(monitor.Start(ctx), qt.IsNil)
	defer monitor.Stop()
	c.Assert(monitor.Start(ctx), qt.ErrorMatches, "service already running")

	ls.set("1", "2", "3")
	for cdb.Size() < 3 {
		select {
		case <-ctx.Done():
			c.Fatal("membership list not followed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
