package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the longest shard line echoed or kept; longer lines
	// are truncated. The run log always gets the full line.
	MaxLineLength = 4096

	// MaxBufferedLines is how many recent lines are kept per shard.
	MaxBufferedLines = 100

	// ProblemLevel is the level Classify assigns to problem lines.
	ProblemLevel = slog.LevelWarn
)

// ShardEcho mirrors shard output to the operator log. Problem lines are
// always logged at Warn; everything else only in verbose mode, at Debug.
// It keeps the most recent lines of every shard for exit reports.
type ShardEcho struct {
	logger  *slog.Logger
	verbose bool

	mu    sync.Mutex
	rings map[string]*ring
}

// NewShardEcho creates an echo observer.
func NewShardEcho(logger *slog.Logger, verbose bool) *ShardEcho {
	return &ShardEcho{
		logger:  logger,
		verbose: verbose,
		rings:   make(map[string]*ring),
	}
}

// ObserveLine implements pump.Observer.
func (e *ShardEcho) ObserveLine(tag, line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	e.mu.Lock()
	r, ok := e.rings[tag]
	if !ok {
		r = newRing(MaxBufferedLines)
		e.rings[tag] = r
	}
	r.add(line)
	e.mu.Unlock()

	level := Classify(line)
	if level < ProblemLevel && !e.verbose {
		return
	}
	e.logger.Log(context.Background(), level, "shard_output",
		"shard", tag,
		"line", line,
	)
}

// ObserveWriteError implements pump.WriteErrorObserver.
func (e *ShardEcho) ObserveWriteError(tag string, err error) {
	e.logger.Error("run_log_append_failed", "shard", tag, "error", err)
}

// RecentLines returns up to n of the latest lines from a shard, oldest first.
func (e *ShardEcho) RecentLines(tag string, n int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rings[tag]
	if !ok {
		return nil
	}
	return r.last(n)
}

// ProblemPatterns are the (lower-case) substrings that mark a shard line as
// worth the operator's attention.
var ProblemPatterns = []string{
	"[error]",
	"lua error",
	"stack traceback",
	"[warning]",
	"failed",
	"assert",
}

// Classify returns ProblemLevel for problem lines and Debug otherwise.
func Classify(line string) slog.Level {
	lower := strings.ToLower(line)
	for _, p := range ProblemPatterns {
		if strings.Contains(lower, p) {
			return ProblemLevel
		}
	}
	return slog.LevelDebug
}

// ring is a fixed-size circular buffer of lines.
type ring struct {
	buf  []string
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]string, size)}
}

func (r *ring) add(line string) {
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) last(n int) []string {
	if size := r.len(); n > size {
		n = size
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - n + i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
