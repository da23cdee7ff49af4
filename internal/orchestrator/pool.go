package orchestrator

import (
	"context"
	"sync"
)

// mapParallel runs fn over items with a bounded worker pool and returns the
// results in input order. Every item produces a result: cancellation handling
// is fn's responsibility, so a run-level deadline shows up as per-unit errors
// rather than missing entries.
func mapParallel[T any, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, item T) R) []R {
	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 4
	}
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int, len(items))
	results := make([]R, len(items))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = fn(ctx, items[i])
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
