package service

import (
	"context"
	"time"

	"github.com/vocdoni/anonsignal/circuits"
	"golang.org/x/sync/errgroup"
)

// LoadArtifacts loads the artifacts of every circuit concurrently,
// downloading the ones that are not cached yet.
func LoadArtifacts(timeout time.Duration, artifacts ...*circuits.CircuitArtifacts) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		g.Go(func() error {
			return a.LoadAll(ctx)
		})
	}
	return g.Wait()
}
