package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/marketpulse/pkg/models"
)

// Fetcher fetches one source with its own retry policy.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, src models.Source) FetchResult
}

// Pool fans feed fetches out over a bounded number of workers. Each source
// runs in isolation: a failure or slow response from one never affects the
// result of another.
type Pool struct {
	fetcher Fetcher
	workers int
}

// NewPool creates a pool with at most workers concurrent fetches.
func NewPool(f Fetcher, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{fetcher: f, workers: workers}
}

// FetchAll fetches every source. handle, when non-nil, is called from the
// worker goroutine as soon as each result is ready, so it must be safe for
// concurrent use. Results are returned in the order of sources.
func (p *Pool) FetchAll(ctx context.Context, sources []models.Source, handle func(context.Context, FetchResult)) []FetchResult {
	results := make([]FetchResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, src := range sources {
		g.Go(func() error {
			res := p.fetcher.FetchWithRetry(gctx, src)
			if handle != nil {
				handle(gctx, res)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return results
}
