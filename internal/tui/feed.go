package tui

import (
	"sync"
	"time"

	"github.com/randomizedcoder/dstctl/internal/logging"
)

// DefaultFeedSize is how many merged shard lines the dashboard keeps.
const DefaultFeedSize = 500

// Line is one shard output line as shown in the feed.
type Line struct {
	Shard   string
	Text    string
	Problem bool
	At      time.Time
}

// Feed is a pump observer holding the latest lines of all shards in
// arrival order. The dashboard polls it on every tick.
type Feed struct {
	mu   sync.Mutex
	buf  []Line
	next int
	full bool
	seq  uint64
	now  func() time.Time
}

// NewFeed creates a feed keeping size lines. A size <= 0 uses
// DefaultFeedSize.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{buf: make([]Line, size), now: time.Now}
}

// ObserveLine implements pump.Observer.
func (f *Feed) ObserveLine(shard, text string) {
	if len(text) > logging.MaxLineLength {
		text = text[:logging.MaxLineLength] + "...(truncated)"
	}
	l := Line{
		Shard:   shard,
		Text:    text,
		Problem: logging.Classify(text) >= logging.ProblemLevel,
		At:      f.now(),
	}

	f.mu.Lock()
	f.buf[f.next] = l
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
	f.seq++
	f.mu.Unlock()
}

// Seq counts lines ever observed. It changes whenever Last would.
func (f *Feed) Seq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// Last returns up to n of the newest lines, oldest first.
func (f *Feed) Last(n int) []Line {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := f.next
	if f.full {
		size = len(f.buf)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		idx := (f.next - n + i + len(f.buf)) % len(f.buf)
		out = append(out, f.buf[idx])
	}
	return out
}
