package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLanesRunJobsInOrderPerKey(t *testing.T) {
	l := NewLanes(4, 0)
	defer l.Close()

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := l.Enqueue("s1", func(context.Context) {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("job order = %v, want ascending", got)
		}
	}
}

func TestLanesBoundConcurrencyAcrossKeys(t *testing.T) {
	l := NewLanes(2, 0)
	defer l.Close()

	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		if err := l.Enqueue(key, func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", key, err)
		}
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
}

func TestLanesRejectWhenFull(t *testing.T) {
	l := NewLanes(1, 2)
	defer l.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := l.Enqueue("s1", func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Enqueue(blocker) error = %v", err)
	}
	<-started

	noop := func(context.Context) {}
	for i := 0; i < 2; i++ {
		if err := l.Enqueue("s1", noop); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if got := l.Pending("s1"); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
	if err := l.Enqueue("s1", noop); !errors.Is(err, ErrLaneFull) {
		t.Fatalf("Enqueue(overflow) error = %v, want ErrLaneFull", err)
	}
	close(release)
}

func TestLanesCloseCancelsAndRejects(t *testing.T) {
	l := NewLanes(1, 0)

	started := make(chan struct{})
	if err := l.Enqueue("s1", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-started
	l.Close()

	if err := l.Enqueue("s1", func(context.Context) {}); !errors.Is(err, ErrLanesClosed) {
		t.Fatalf("Enqueue(after close) error = %v, want ErrLanesClosed", err)
	}
}
