package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunPreservesInputOrder(t *testing.T) {
	inputs := []int{0, 1, 2, 3, 4, 5, 6, 7}

	results, stats, err := Run(context.Background(), inputs,
		func(ctx context.Context, index, in int) (string, error) {
			// Reverse the natural completion order.
			time.Sleep(time.Duration(len(inputs)-index) * time.Millisecond)
			return fmt.Sprintf("item-%d", in), nil
		}, Options[string]{Concurrency: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Succeeded != len(inputs) || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("results[%d].Index = %d", i, res.Index)
		}
		if res.Value != fmt.Sprintf("item-%d", i) {
			t.Errorf("results[%d].Value = %q", i, res.Value)
		}
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	const limit = 2
	var inFlight, peak int32

	inputs := make([]int, 10)
	_, _, err := Run(context.Background(), inputs,
		func(ctx context.Context, index, in int) (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return 0, nil
		}, Options[int]{Concurrency: limit})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if p := atomic.LoadInt32(&peak); p > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", p, limit)
	}
}

func TestRunItemFailureDoesNotStopBatch(t *testing.T) {
	inputs := []string{"ok", "bad", "ok"}
	failErr := errors.New("transform failed")

	results, stats, err := Run(context.Background(), inputs,
		func(ctx context.Context, index int, in string) (string, error) {
			if in == "bad" {
				return "", failErr
			}
			return strings.ToUpper(in), nil
		}, Options[string]{Concurrency: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !errors.Is(results[1].Err, failErr) {
		t.Errorf("results[1].Err = %v", results[1].Err)
	}
	if results[0].Value != "OK" || results[2].Value != "OK" {
		t.Errorf("successful values lost: %+v", results)
	}
}

func TestRunAbortOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls int32

	inputs := make([]int, 20)
	for i := range inputs {
		inputs[i] = i
	}

	results, _, err := Run(context.Background(), inputs,
		func(ctx context.Context, index, in int) (int, error) {
			atomic.AddInt32(&calls, 1)
			if index == 0 {
				return 0, boom
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(2 * time.Millisecond):
			}
			return in, nil
		}, Options[int]{Concurrency: 1, AbortOnError: true})

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if n := atomic.LoadInt32(&calls); int(n) == len(inputs) {
		t.Error("expected abort to skip remaining items")
	}
	// Items never scheduled carry a cancellation marker.
	if !errors.Is(results[len(results)-1].Err, context.Canceled) {
		t.Errorf("unscheduled item err = %v", results[len(results)-1].Err)
	}
}

func TestRunObserversAreSerial(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	inObserver := false

	inputs := make([]int, 12)
	_, stats, err := Run(context.Background(), inputs,
		func(ctx context.Context, index, in int) (int, error) {
			return index, nil
		}, Options[int]{
			Concurrency: 4,
			OnItem: func(done, total int, res ItemResult[int]) {
				mu.Lock()
				if inObserver {
					t.Error("OnItem invoked concurrently")
				}
				inObserver = true
				seen = append(seen, done)
				inObserver = false
				mu.Unlock()
			},
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(seen) != 12 {
		t.Fatalf("OnItem called %d times, want 12", len(seen))
	}
	// done counts up monotonically.
	for i, d := range seen {
		if d != i+1 {
			t.Errorf("seen[%d] = %d, want %d", i, d, i+1)
		}
	}
	if stats.Total != 12 {
		t.Errorf("stats.Total = %d", stats.Total)
	}
}

func TestRunEmptyInput(t *testing.T) {
	batchCalled := false
	results, stats, err := Run(context.Background(), nil,
		func(ctx context.Context, index, in int) (int, error) {
			t.Fatal("transform should not run")
			return 0, nil
		}, Options[int]{OnBatch: func(s Stats) { batchCalled = true }})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 || stats.Total != 0 {
		t.Errorf("results = %v, stats = %+v", results, stats)
	}
	if !batchCalled {
		t.Error("OnBatch not called for empty input")
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inputs := make([]int, 5)
	results, stats, err := Run(ctx, inputs,
		func(ctx context.Context, index, in int) (int, error) {
			return 0, ctx.Err()
		}, Options[int]{Concurrency: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every result carries an error, either from the transform observing the
	// canceled context or from never being scheduled.
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed != len(inputs) {
		t.Errorf("failed = %d, want %d (stats %+v)", failed, len(inputs), stats)
	}
}

func TestRunStats(t *testing.T) {
	inputs := make([]int, 6)
	_, stats, err := Run(context.Background(), inputs,
		func(ctx context.Context, index, in int) (int, error) {
			time.Sleep(2 * time.Millisecond)
			return 0, nil
		}, Options[int]{Concurrency: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Total != 6 || stats.Succeeded != 6 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Duration <= 0 || stats.AvgItemDuration <= 0 {
		t.Errorf("durations not recorded: %+v", stats)
	}
	if stats.Throughput <= 0 {
		t.Errorf("throughput not recorded: %+v", stats)
	}
}
