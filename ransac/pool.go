package ransac

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// parallelFor splits [0, n) into at most `workers` contiguous chunks and runs fn on
// each chunk concurrently. Chunks are disjoint, so fn may write to its own range of a
// shared slice without locking. The first error cancels ctx for the remaining chunks.
func parallelFor(ctx context.Context, workers, n int, fn func(ctx context.Context, lo, hi int) error) error {
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		return fn(ctx, 0, n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			return fn(ctx, lo, hi)
		})
	}
	return g.Wait()
}
