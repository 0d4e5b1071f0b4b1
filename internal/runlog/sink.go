// Package runlog provides the per-session run log: a single append-only
// text file that receives the tagged output of both shards.
//
// Every line written through a Sink has the form
//
//	[2006-01-02 15:04:05] <tag>: <line>
//
// and is emitted with one Write call while holding the sink mutex, so lines
// from concurrent pumps are never torn. Ordering between different tags is
// whatever order the appends happen in.
package runlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// TimestampLayout is the layout of the bracketed timestamp on each line.
	TimestampLayout = "2006-01-02 15:04:05"

	// FileStampLayout is the layout of the timestamp in run log file names.
	FileStampLayout = "20060102_150405"

	startMarkerPrefix = "==== Game Start: "
	endMarkerPrefix   = "==== Game End: "
)

// ErrClosed is returned when appending to a sink that was already closed.
var ErrClosed = errors.New("run log closed")

// WriteError reports that the run log could not be opened or appended to.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("run log %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Sink is the append-only, timestamped, multiplexed writer for one run.
type Sink struct {
	path string

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool

	now func() time.Time
}

// FileName returns the run log file name for a save started at t.
func FileName(save string, t time.Time) string {
	return fmt.Sprintf("%s_%s.log", save, t.Format(FileStampLayout))
}

// Open creates (or appends to) <dir>/<save>_<YYYYMMDD_HHMMSS>.log.
// The directory must already exist.
func Open(dir, save string, start time.Time) (*Sink, error) {
	path := filepath.Join(dir, FileName(save, start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	return &Sink{
		path:   path,
		w:      f,
		closer: f,
		now:    time.Now,
	}, nil
}

// NewWriterSink wraps an arbitrary writer. Path is only used in errors.
func NewWriterSink(w io.Writer, path string) *Sink {
	s := &Sink{
		path: path,
		w:    w,
		now:  time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Path returns the file path of the run log.
func (s *Sink) Path() string {
	return s.path
}

// Append writes one tagged line. Trailing CR/LF in line are dropped.
func (s *Sink) Append(tag, line string) error {
	line = strings.TrimRight(line, "\r\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(fmt.Sprintf("[%s] %s: %s\n", s.now().Format(TimestampLayout), tag, line))
}

// WriteStart writes the session start marker, preceded by two blank lines so
// consecutive runs appended to the same file stay readable.
func (s *Sink) WriteStart(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(fmt.Sprintf("\n\n%s%s (session %s) ====\n",
		startMarkerPrefix, s.now().Format(TimestampLayout), sessionID))
}

// WriteEnd writes the session end marker.
func (s *Sink) WriteEnd(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(fmt.Sprintf("%s%s (session %s) ====\n",
		endMarkerPrefix, s.now().Format(TimestampLayout), sessionID))
}

func (s *Sink) writeLocked(text string) error {
	if s.closed {
		return &WriteError{Path: s.path, Err: ErrClosed}
	}
	if _, err := io.WriteString(s.w, text); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

// Close closes the underlying file. Further appends fail with ErrClosed.
// Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer == nil {
		return nil
	}
	if err := s.closer.Close(); err != nil {
		return &WriteError{Path: s.path, Err: err}
	}
	return nil
}

// IsStartMarker reports whether a run log line is a session start marker.
func IsStartMarker(line string) bool {
	return strings.HasPrefix(line, startMarkerPrefix)
}

// IsEndMarker reports whether a run log line is a session end marker.
func IsEndMarker(line string) bool {
	return strings.HasPrefix(line, endMarkerPrefix)
}

// MarkerTime extracts the timestamp of a start or end marker line.
func MarkerTime(line string) (time.Time, error) {
	var rest string
	switch {
	case IsStartMarker(line):
		rest = strings.TrimPrefix(line, startMarkerPrefix)
	case IsEndMarker(line):
		rest = strings.TrimPrefix(line, endMarkerPrefix)
	default:
		return time.Time{}, fmt.Errorf("not a marker line: %q", line)
	}
	if len(rest) < len(TimestampLayout) {
		return time.Time{}, fmt.Errorf("marker too short: %q", line)
	}
	return time.ParseInLocation(TimestampLayout, rest[:len(TimestampLayout)], time.Local)
}
