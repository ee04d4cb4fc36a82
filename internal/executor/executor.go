// Package executor runs independent, I/O-bound work items with a fixed
// concurrency limit. Workers only compute; results are merged and observers
// invoked on the single coordinating goroutine, so no shared state is written
// concurrently.
package executor

import (
	"context"
	"sync"
	"time"
)

// DefaultConcurrency is the limit used when none is configured.
const DefaultConcurrency = 3

// ItemResult is the outcome of one work item.
type ItemResult[Out any] struct {
	Index    int
	Value    Out
	Err      error
	Duration time.Duration
}

// Stats aggregates a batch run.
type Stats struct {
	Total           int
	Succeeded       int
	Failed          int
	Duration        time.Duration
	AvgItemDuration time.Duration
	Throughput      float64 // items per second
}

// Options configures a batch run.
type Options[Out any] struct {
	// Concurrency is the maximum number of transforms in flight.
	Concurrency int
	// AbortOnError cancels remaining work after the first item failure and
	// returns that error from Run.
	AbortOnError bool
	// OnItem is invoked serially, in completion order, as each result lands.
	// done counts completed items including this one.
	OnItem func(done, total int, res ItemResult[Out])
	// OnBatch is invoked once after all items have completed.
	OnBatch func(stats Stats)
}

// Run applies transform to every input with at most Concurrency calls in
// flight. A single item's failure is captured in its ItemResult and does not
// stop the batch unless AbortOnError is set. The returned slice is in input
// order regardless of completion order.
func Run[In, Out any](ctx context.Context, inputs []In, transform func(ctx context.Context, index int, in In) (Out, error), opts Options[Out]) ([]ItemResult[Out], Stats, error) {
	total := len(inputs)
	results := make([]ItemResult[Out], total)
	stats := Stats{Total: total}
	started := time.Now()

	if total == 0 {
		if opts.OnBatch != nil {
			opts.OnBatch(stats)
		}
		return results, stats, nil
	}

	// Items never scheduled after an abort keep this marker.
	for i := range results {
		results[i] = ItemResult[Out]{Index: i, Err: context.Canceled}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > total {
		concurrency = total
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	done := make(chan ItemResult[Out])

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				itemStart := time.Now()
				value, err := transform(ctx, idx, inputs[idx])
				done <- ItemResult[Out]{
					Index:    idx,
					Value:    value,
					Err:      err,
					Duration: time.Since(itemStart),
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < total; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	var itemTime time.Duration
	completed := 0
	for res := range done {
		results[res.Index] = res
		completed++
		itemTime += res.Duration

		if res.Err != nil {
			stats.Failed++
			if opts.AbortOnError && firstErr == nil {
				firstErr = res.Err
				cancel()
			}
		} else {
			stats.Succeeded++
		}

		if opts.OnItem != nil {
			opts.OnItem(completed, total, res)
		}
	}

	stats.Duration = time.Since(started)
	if completed > 0 {
		stats.AvgItemDuration = itemTime / time.Duration(completed)
	}
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.Throughput = float64(completed) / secs
	}

	if opts.OnBatch != nil {
		opts.OnBatch(stats)
	}

	return results, stats, firstErr
}
