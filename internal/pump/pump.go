// Package pump drains a shard's combined stdout/stderr stream into the run
// log and trips the readiness gate when the readiness marker shows up.
package pump

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

const (
	initialBufferSize = 64 * 1024

	// MaxLineSize is the longest line a pump accepts before treating the
	// stream as broken.
	MaxLineSize = 1024 * 1024
)

// LineSink receives every line read from the stream.
type LineSink interface {
	Append(tag, line string) error
}

// Signaler is tripped on the first line containing the marker.
type Signaler interface {
	Signal(source string) bool
}

// Observer sees every line after it has been handed to the sink.
// Implementations must not block.
type Observer interface {
	ObserveLine(tag, line string)
}

// WriteErrorObserver is optionally implemented by observers that want to
// hear about failed sink appends.
type WriteErrorObserver interface {
	ObserveWriteError(tag string, err error)
}

// StreamError reports that reading the stream failed for a reason other
// than a clean end of file.
type StreamError struct {
	Tag string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s output stream: %v", e.Tag, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Config configures a Pump.
type Config struct {
	Tag       string
	Marker    string // empty disables readiness detection
	Reader    io.Reader
	Sink      LineSink
	Gate      Signaler
	Observers []Observer
}

// Pump reads one shard's stream until end of input.
type Pump struct {
	tag       string
	marker    string
	reader    io.Reader
	sink      LineSink
	gate      Signaler
	observers []Observer

	// Owned by the Run goroutine.
	triggered bool

	done chan struct{}
	err  error // set before done is closed

	linesRead   atomic.Int64
	bytesRead   atomic.Int64
	writeErrors atomic.Int64
	markerSeen  atomic.Bool

	gapMu    sync.Mutex
	gaps     *tdigest.TDigest
	lastLine time.Time
	maxGap   time.Duration
}

// New creates a pump. Call Run exactly once, typically in its own goroutine.
func New(cfg Config) *Pump {
	return &Pump{
		tag:       cfg.Tag,
		marker:    cfg.Marker,
		reader:    cfg.Reader,
		sink:      cfg.Sink,
		gate:      cfg.Gate,
		observers: cfg.Observers,
		done:      make(chan struct{}),
		gaps:      tdigest.NewWithCompression(100),
	}
}

// Run consumes the stream line by line until it is exhausted.
//
// A read failure ends the pump with a *StreamError after the rest of the
// stream has been discarded, so the child never blocks on a full pipe.
// Sink failures do not stop the pump; the first one is returned once the
// stream ends.
func (p *Pump) Run() error {
	defer close(p.done)

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, initialBufferSize), MaxLineSize)

	var writeErr error
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		p.bytesRead.Add(int64(len(scanner.Bytes()) + 1))
		p.linesRead.Add(1)
		p.recordGap(time.Now())

		if err := p.sink.Append(p.tag, line); err != nil {
			p.writeErrors.Add(1)
			if writeErr == nil {
				writeErr = err
			}
			p.notifyWriteError(err)
		}

		if !p.triggered && p.marker != "" && strings.Contains(line, p.marker) {
			p.triggered = true
			p.markerSeen.Store(true)
			if p.gate != nil {
				p.gate.Signal(p.tag)
			}
		}

		for _, o := range p.observers {
			o.ObserveLine(p.tag, line)
		}
	}

	var streamErr error
	if err := scanner.Err(); err != nil {
		streamErr = &StreamError{Tag: p.tag, Err: err}
		_, _ = io.Copy(io.Discard, p.reader)
	}

	p.err = errors.Join(streamErr, writeErr)
	return p.err
}

func (p *Pump) notifyWriteError(err error) {
	for _, o := range p.observers {
		if w, ok := o.(WriteErrorObserver); ok {
			w.ObserveWriteError(p.tag, err)
		}
	}
}

func (p *Pump) recordGap(now time.Time) {
	p.gapMu.Lock()
	defer p.gapMu.Unlock()

	if !p.lastLine.IsZero() {
		gap := now.Sub(p.lastLine)
		p.gaps.Add(float64(gap.Microseconds()), 1)
		if gap > p.maxGap {
			p.maxGap = gap
		}
	}
	p.lastLine = now
}

// Tag returns the source tag of this pump.
func (p *Pump) Tag() string {
	return p.tag
}

// Done returns a channel closed when Run has returned.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Err returns the result of Run. Only meaningful after Done is closed.
func (p *Pump) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stats is a point-in-time view of pump counters.
type Stats struct {
	Lines       int64
	Bytes       int64
	WriteErrors int64
	MarkerSeen  bool

	// Silence between consecutive lines.
	GapP50 time.Duration
	GapP99 time.Duration
	MaxGap time.Duration
}

// Stats returns current counters. Safe to call while Run is active.
func (p *Pump) Stats() Stats {
	s := Stats{
		Lines:       p.linesRead.Load(),
		Bytes:       p.bytesRead.Load(),
		WriteErrors: p.writeErrors.Load(),
		MarkerSeen:  p.markerSeen.Load(),
	}

	p.gapMu.Lock()
	defer p.gapMu.Unlock()
	if p.gaps.Count() > 0 {
		s.GapP50 = time.Duration(p.gaps.Quantile(0.50)) * time.Microsecond
		s.GapP99 = time.Duration(p.gaps.Quantile(0.99)) * time.Microsecond
	}
	s.MaxGap = p.maxGap
	return s
}
