package runlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

var lineFormat = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] (Caves|Master): (.*)$`)

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	got := FileName("MyCluster", ts)
	want := "MyCluster_20240309_070501.log"
	if got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}
}

func TestOpen_CreatesAndAppends(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	s, err := Open(dir, "c1", start)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Append("Master", "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening the same name appends instead of truncating.
	s2, err := Open(dir, "c1", start)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s2.Append("Caves", "world"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	s2.Close()

	data, err := os.ReadFile(filepath.Join(dir, "c1_20240102_030405.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	if !strings.HasSuffix(lines[0], "Master: hello") || !strings.HasSuffix(lines[1], "Caves: world") {
		t.Errorf("unexpected content: %q", lines)
	}
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), "c1", time.Now())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("error %T is not *WriteError", err)
	}
}

func TestAppend_Format(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, "mem")
	s.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	tests := []struct {
		tag  string
		line string
		want string
	}{
		{"Caves", "booting", "[2024-05-06 07:08:09] Caves: booting\n"},
		{"Master", "Sim paused\n", "[2024-05-06 07:08:09] Master: Sim paused\n"},
		{"Master", "crlf\r\n", "[2024-05-06 07:08:09] Master: crlf\n"},
		{"Caves", "", "[2024-05-06 07:08:09] Caves: \n"},
	}
	for _, tc := range tests {
		buf.Reset()
		if err := s.Append(tc.tag, tc.line); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if buf.String() != tc.want {
			t.Errorf("Append(%q, %q) wrote %q, want %q", tc.tag, tc.line, buf.String(), tc.want)
		}
	}
}

func TestAppend_AfterClose(t *testing.T) {
	s := NewWriterSink(&bytes.Buffer{}, "mem")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	err := s.Append("Caves", "late")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after close = %v, want ErrClosed", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestAppend_WriteFailurePropagates(t *testing.T) {
	s := NewWriterSink(failingWriter{}, "/var/log/x.log")
	err := s.Append("Master", "line")
	if err == nil {
		t.Fatal("expected error")
	}
	var we *WriteError
	if !errors.As(err, &we) || we.Path != "/var/log/x.log" {
		t.Fatalf("got %v, want WriteError with path", err)
	}
}

func TestAppend_ConcurrentLinesNeverTear(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "race", time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const perTag = 500
	payload := strings.Repeat("x", 300)
	var wg sync.WaitGroup
	for _, tag := range []string{"Caves", "Master"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			for i := 0; i < perTag; i++ {
				if err := s.Append(tag, fmt.Sprintf("%s-%d-%s", tag, i, payload)); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}(tag)
	}
	wg.Wait()
	s.Close()

	f, err := os.Open(s.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	next := map[string]int{"Caves": 0, "Master": 0}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := lineFormat.FindStringSubmatch(scanner.Text())
		if m == nil {
			t.Fatalf("malformed line: %q", scanner.Text())
		}
		want := fmt.Sprintf("%s-%d-%s", m[1], next[m[1]], payload)
		if m[2] != want {
			t.Fatalf("line out of order or torn: got %q", m[2])
		}
		next[m[1]]++
	}
	if next["Caves"] != perTag || next["Master"] != perTag {
		t.Errorf("line counts = %v, want %d each", next, perTag)
	}
}

func TestMarkers(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, "mem")
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	s.now = func() time.Time { return ts }

	if err := s.WriteStart("abc"); err != nil {
		t.Fatalf("WriteStart: %v", err)
	}
	ts = ts.Add(90 * time.Second)
	if err := s.WriteEnd("abc"); err != nil {
		t.Fatalf("WriteEnd: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "\n\n==== Game Start: 2024-05-06 07:08:09 (session abc) ====\n") {
		t.Errorf("unexpected start marker: %q", out)
	}

	var starts, ends []time.Time
	for _, line := range strings.Split(out, "\n") {
		switch {
		case IsStartMarker(line):
			tm, err := MarkerTime(line)
			if err != nil {
				t.Fatalf("MarkerTime: %v", err)
			}
			starts = append(starts, tm)
		case IsEndMarker(line):
			tm, err := MarkerTime(line)
			if err != nil {
				t.Fatalf("MarkerTime: %v", err)
			}
			ends = append(ends, tm)
		}
	}
	if len(starts) != 1 || len(ends) != 1 {
		t.Fatalf("starts=%d ends=%d, want 1 each", len(starts), len(ends))
	}
	if !ends[0].After(starts[0]) {
		t.Errorf("end %v not after start %v", ends[0], starts[0])
	}
}

func TestMarkerTime_NotMarker(t *testing.T) {
	if _, err := MarkerTime("[2024-01-01 00:00:00] Caves: x"); err == nil {
		t.Error("expected error for non-marker line")
	}
}
