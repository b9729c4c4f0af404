package git

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_HighWaterMarkRespectsLimit(t *testing.T) {
	const limit = 4
	pool := NewPool(limit)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	ctx := context.Background()

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Run(ctx, func() error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > limit {
		t.Fatalf("observed %d concurrent operations, limit is %d", p, limit)
	}
}

func TestPool_CancelledWaiterDoesNotRun(t *testing.T) {
	pool := NewPool(1)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.Run(ctx, func() error {
		t.Error("fn ran despite cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected a context error while waiting for a slot")
	}
}

func TestPool_SequentialRunsComplete(t *testing.T) {
	pool := NewPool(2)
	for i := range 6 {
		if err := pool.Run(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestPool_ZeroLimitClampsToOne(t *testing.T) {
	pool := NewPool(0)
	if err := pool.Run(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected clamped pool to run, got %v", err)
	}
}

func TestPool_NilPoolRunsDirectly(t *testing.T) {
	var pool *Pool
	var ran bool
	if err := pool.Run(context.Background(), func() error { ran = true; return nil }); err != nil {
		t.Fatalf("nil pool should run fn directly, got %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
}
