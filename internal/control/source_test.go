package control

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"
	"testing"
	"time"
)

func drain(t *testing.T, ch <-chan string, d time.Duration) []string {
	t.Helper()
	var out []string
	timeout := time.After(d)
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		case <-timeout:
			t.Fatalf("channel not closed within %v (got %q)", d, out)
			return out
		}
	}
}

func TestReaderSource(t *testing.T) {
	src := NewReaderSource(strings.NewReader("x\nstatus\r\nexit\n"))
	got := drain(t, src.Commands(), time.Second)

	want := []string{"x", "status", "exit"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", got, want)
	}
	if src.Err() != nil {
		t.Errorf("Err() = %v", src.Err())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestReaderSource_ReadError(t *testing.T) {
	src := NewReaderSource(failingReader{})
	drain(t, src.Commands(), time.Second)
	if src.Err() == nil {
		t.Error("expected read error")
	}
}

func TestReaderSource_DrivesLoop(t *testing.T) {
	pr, pw := io.Pipe()
	src := NewReaderSource(pr)
	out := &syncBuffer{}
	stopper := &fakeStopper{}

	l := New(Config{Commands: src.Commands(), Out: out, Stopper: stopper})
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	io.WriteString(pw, "x\n")
	io.WriteString(pw, "exit\n")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not terminate")
	}
	pw.Close()

	if strings.Count(out.String(), "Unknown command") != 1 {
		t.Errorf("output = %q", out.String())
	}
}

func TestMerge(t *testing.T) {
	a := make(chan string)
	b := make(chan string)
	merged := Merge(a, b)

	go func() {
		a <- "one"
		b <- "two"
	}()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case line := <-merged:
			got[line] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged lines")
		}
	}
	if !got["one"] || !got["two"] {
		t.Errorf("merged = %v", got)
	}

	// Closing any input closes the merged channel.
	close(a)
	drain(t, merged, time.Second)
}

func TestMerge_NoInputs(t *testing.T) {
	drain(t, Merge(), time.Second)
}

func TestSignalSource(t *testing.T) {
	src := NewSignalSource(syscall.SIGUSR1)
	defer src.Stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case line := <-src.Commands():
		if line != ExitCommand {
			t.Errorf("line = %q, want %q", line, ExitCommand)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal not relayed")
	}

	src.Stop()
	src.Stop()
}
