package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_InitiallyUnset(t *testing.T) {
	g := New()
	if g.IsSet() {
		t.Fatal("new gate should be unset")
	}
	if g.Source() != "" {
		t.Errorf("Source() = %q, want empty", g.Source())
	}
	if !g.SignaledAt().IsZero() {
		t.Error("SignaledAt should be zero before Signal")
	}
	select {
	case <-g.Done():
		t.Fatal("Done closed before Signal")
	default:
	}
}

func TestGate_SignalIdempotent(t *testing.T) {
	for _, n := range []int{1, 2, 10} {
		g := New()
		fired := 0
		for i := 0; i < n; i++ {
			src := "Caves"
			if i > 0 {
				src = "Master"
			}
			if g.Signal(src) {
				fired++
			}
		}
		if fired != 1 {
			t.Errorf("n=%d: Signal returned true %d times, want 1", n, fired)
		}
		if !g.IsSet() {
			t.Errorf("n=%d: gate not set", n)
		}
		if g.Source() != "Caves" {
			t.Errorf("n=%d: Source() = %q, want Caves", n, g.Source())
		}
	}
}

func TestGate_WaitReturnsImmediatelyAfterSignal(t *testing.T) {
	g := New()
	g.Signal("Master")

	done := make(chan struct{})
	go func() {
		g.Wait()
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after Signal")
	}
}

func TestGate_WaitBlocksUntilSignal(t *testing.T) {
	g := New()
	var returned atomic.Bool
	done := make(chan struct{})
	go func() {
		g.Wait()
		returned.Store(true)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if returned.Load() {
		t.Fatal("Wait returned before Signal")
	}
	g.Signal("Caves")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Signal")
	}
}

func TestGate_ConcurrentSignalers(t *testing.T) {
	g := New()
	const workers = 64
	var fired atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.Signal("pump") {
				fired.Add(1)
			}
		}()
	}

	waiters := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			g.Wait()
			waiters <- struct{}{}
		}()
	}

	close(start)
	wg.Wait()
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
	for i := 0; i < workers; i++ {
		select {
		case <-waiters:
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never released", i)
		}
	}
}

func TestGate_WaitContext(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		g := New()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := g.WaitContext(ctx); err != context.DeadlineExceeded {
			t.Errorf("WaitContext = %v, want DeadlineExceeded", err)
		}
	})

	t.Run("signaled", func(t *testing.T) {
		g := New()
		go func() {
			time.Sleep(10 * time.Millisecond)
			g.Signal("Master")
		}()
		if err := g.WaitContext(context.Background()); err != nil {
			t.Errorf("WaitContext = %v, want nil", err)
		}
		if g.SignaledAt().IsZero() {
			t.Error("SignaledAt should be set")
		}
	})
}
