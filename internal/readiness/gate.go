// Package readiness provides the single-fire gate that both output pumps
// race to trip when a shard reports that its simulation is up.
package readiness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Gate is set at most once. Waiters block until the first Signal.
type Gate struct {
	once sync.Once
	done chan struct{}
	set  atomic.Bool

	// Written inside once.Do before done is closed; read after <-done.
	source string
	at     time.Time
}

// New returns an unset gate.
func New() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Signal sets the gate. Only the first call has effect; it returns true for
// that call and false for every later one. Safe for concurrent use.
func (g *Gate) Signal(source string) bool {
	fired := false
	g.once.Do(func() {
		g.source = source
		g.at = time.Now()
		g.set.Store(true)
		close(g.done)
		fired = true
	})
	return fired
}

// Wait blocks until the gate is set. There is no timeout.
func (g *Gate) Wait() {
	<-g.done
}

// WaitContext blocks until the gate is set or ctx is done.
func (g *Gate) WaitContext(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the gate is set.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// IsSet reports whether Signal has been called.
func (g *Gate) IsSet() bool {
	return g.set.Load()
}

// Source returns the tag passed to the Signal call that set the gate,
// or "" if the gate is not set yet.
func (g *Gate) Source() string {
	if !g.IsSet() {
		return ""
	}
	<-g.done
	return g.source
}

// SignaledAt returns when the gate was set (zero if unset).
func (g *Gate) SignaledAt() time.Time {
	if !g.IsSet() {
		return time.Time{}
	}
	<-g.done
	return g.at
}
