package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	batchSize       = 3
	interBatchPause = 500 * time.Millisecond
	perCallTimeout  = 30 * time.Second
)

// Limiters are the two counting semaphores bounding concurrent host
// calls process-wide: 5 for the forum host, 3 for the repository.
// Shared across all workspaces of one process.
type Limiters struct {
	Chat *semaphore.Weighted
	Repo *semaphore.Weighted
}

func NewLimiters() *Limiters {
	return &Limiters{
		Chat: semaphore.NewWeighted(5),
		Repo: semaphore.NewWeighted(3),
	}
}

// runBatches processes items in fixed-size batches, each batch's
// items concurrently under sem, pausing between batches. One item's
// failure is logged and counted, never cancels siblings. Returns the
// number of confirmed successes.
func runBatches[T any](ctx context.Context, sem *semaphore.Weighted, phase string, items []T, fn func(context.Context, T) error) int {
	var ok atomic.Int64
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			if err := sem.Acquire(ctx, 1); err != nil {
				return int(ok.Load())
			}
			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				defer sem.Release(1)
				callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
				defer cancel()
				if err := fn(callCtx, item); err != nil {
					log.Warn().Err(err).Str("phase", phase).Msg("item failed, will retry next cycle")
					return
				}
				ok.Add(1)
			}(item)
		}
		wg.Wait()
		if end < len(items) {
			select {
			case <-ctx.Done():
				return int(ok.Load())
			case <-time.After(interBatchPause):
			}
		}
	}
	return int(ok.Load())
}
