// Package timeseries tracks how fast each shard writes output, as rolling
// averages over a few fixed windows.
//
// A quiet shard is often a hung one, so the dashboard and the status
// command show the recent rate next to the total line count.
package timeseries

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples kept per shard (5 minutes
	// at 1 sample/sec).
	ringBufferSize = 300

	// DefaultInterval is how often Run records samples.
	DefaultInterval = time.Second

	window10s  = 10 * time.Second
	window60s  = 60 * time.Second
	window300s = 300 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type sample struct {
	timestamp time.Time
	lines     int64
}

// Counter tracks the cumulative line count of one shard and a ring of
// periodic samples of it.
type Counter struct {
	total atomic.Int64

	samples  []sample
	writeIdx int
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// Rates is a point-in-time view of one Counter. Averages are in lines per
// second.
type Rates struct {
	Total int64

	Avg10s     float64
	Avg60s     float64
	Avg300s    float64
	AvgOverall float64
}

// NewCounter creates a counter with the real clock.
func NewCounter() *Counter {
	return NewCounterWithClock(realClock{})
}

// NewCounterWithClock creates a counter with a custom clock for testing.
func NewCounterWithClock(clock Clock) *Counter {
	now := clock.Now()
	c := &Counter{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	c.samples = append(c.samples, sample{timestamp: now})
	return c
}

// Add counts n lines. Lock-free.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.total.Add(n)
	}
}

// RecordSample stores the current total with a timestamp.
func (c *Counter) RecordSample() {
	now := c.clock.Now()
	current := c.total.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := sample{timestamp: now, lines: current}
	if len(c.samples) < ringBufferSize {
		c.samples = append(c.samples, s)
		return
	}
	c.samples[c.writeIdx] = s
	c.writeIdx = (c.writeIdx + 1) % ringBufferSize
}

// Rates computes the rolling averages. Windows longer than the recorded
// history fall back to the oldest sample.
func (c *Counter) Rates() Rates {
	now := c.clock.Now()
	current := c.total.Load()

	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Rates{Total: current}
	if elapsed := now.Sub(c.startTime).Seconds(); elapsed > 0 {
		r.AvgOverall = float64(current) / elapsed
	}
	r.Avg10s = c.avgOverWindow(now, current, window10s)
	r.Avg60s = c.avgOverWindow(now, current, window60s)
	r.Avg300s = c.avgOverWindow(now, current, window300s)
	return r
}

// avgOverWindow must be called with mu held.
func (c *Counter) avgOverWindow(now time.Time, current int64, window time.Duration) float64 {
	target := now.Add(-window)

	// Closest sample at or before the window start.
	var best *sample
	var bestDiff time.Duration = -1
	for i := range c.samples {
		s := &c.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if diff := target.Sub(s.timestamp); bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = c.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.lines) / elapsed
}

// oldestSample must be called with mu held.
func (c *Counter) oldestSample() *sample {
	if len(c.samples) == 0 {
		return nil
	}
	if len(c.samples) < ringBufferSize {
		return &c.samples[0]
	}
	return &c.samples[c.writeIdx]
}

// SampleCount returns the number of samples in the ring buffer.
func (c *Counter) SampleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// ShardRates keeps one Counter per shard tag. It is a pump observer: every
// captured line counts towards its shard.
type ShardRates struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	clock    Clock
}

// NewShardRates creates an empty set of counters with the real clock.
func NewShardRates() *ShardRates {
	return NewShardRatesWithClock(realClock{})
}

// NewShardRatesWithClock creates an empty set with a custom clock.
func NewShardRatesWithClock(clock Clock) *ShardRates {
	return &ShardRates{
		counters: make(map[string]*Counter),
		clock:    clock,
	}
}

// ObserveLine counts one line for tag.
func (r *ShardRates) ObserveLine(tag, _ string) {
	r.counter(tag).Add(1)
}

func (r *ShardRates) counter(tag string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[tag]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[tag]; !ok {
		c = NewCounterWithClock(r.clock)
		r.counters[tag] = c
	}
	return c
}

// RecordSample samples every counter.
func (r *ShardRates) RecordSample() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.counters {
		c.RecordSample()
	}
}

// Rates returns the rates of tag. A shard with no lines yet has zero rates.
func (r *ShardRates) Rates(tag string) Rates {
	r.mu.RLock()
	c, ok := r.counters[tag]
	r.mu.RUnlock()
	if !ok {
		return Rates{}
	}
	return c.Rates()
}

// Tags returns the shards seen so far, sorted.
func (r *ShardRates) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.counters))
	for tag := range r.counters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Run records a sample every interval until ctx is done.
func (r *ShardRates) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RecordSample()
		}
	}
}
