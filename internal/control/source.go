package control

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ExitCommand is the line a source emits when it wants the loop to terminate.
const ExitCommand = "exit"

// ReaderSource turns a line-oriented reader into a command channel. The
// channel is closed when the reader reaches EOF or fails.
type ReaderSource struct {
	ch  chan string
	err error
}

// NewReaderSource starts reading r in its own goroutine.
func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{ch: make(chan string)}
	go func() {
		defer close(s.ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			s.ch <- sc.Text()
		}
		s.err = sc.Err()
	}()
	return s
}

// Commands returns the command channel.
func (s *ReaderSource) Commands() <-chan string {
	return s.ch
}

// Err returns the read error, if any. Valid after the channel is closed.
func (s *ReaderSource) Err() error {
	return s.err
}

// TerminalSource reads commands with line editing and history. Ctrl+C is
// turned into an exit command; Ctrl+D closes the channel.
type TerminalSource struct {
	rl *readline.Instance
	ch chan string
}

// NewTerminalSource opens an interactive prompt on the process terminal.
func NewTerminalSource(prompt string) (*TerminalSource, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       ExitCommand,
	})
	if err != nil {
		return nil, err
	}
	s := &TerminalSource{rl: rl, ch: make(chan string)}
	go s.read()
	return s, nil
}

func (s *TerminalSource) read() {
	defer close(s.ch)
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			s.ch <- ExitCommand
			continue
		}
		if err != nil {
			return
		}
		s.ch <- line
	}
}

// Commands returns the command channel.
func (s *TerminalSource) Commands() <-chan string {
	return s.ch
}

// Stdout returns a writer that does not corrupt the prompt line.
func (s *TerminalSource) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Close restores the terminal.
func (s *TerminalSource) Close() error {
	return s.rl.Close()
}

// Source is anything that produces operator command lines.
type Source interface {
	Commands() <-chan string
}

// StdinSource picks a TerminalSource when stdin is a terminal and a plain
// ReaderSource otherwise. The returned closer is never nil.
func StdinSource(prompt string) (Source, io.Closer, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		ts, err := NewTerminalSource(prompt)
		if err != nil {
			return nil, nil, err
		}
		return ts, ts, nil
	}
	return NewReaderSource(os.Stdin), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SignalSource emits an exit command each time one of the given signals
// arrives, so an interrupted session shuts down the same way as "exit".
type SignalSource struct {
	sigCh chan os.Signal
	ch    chan string
	once  sync.Once
	done  chan struct{}
}

// NewSignalSource starts relaying sigs.
func NewSignalSource(sigs ...os.Signal) *SignalSource {
	s := &SignalSource{
		sigCh: make(chan os.Signal, 1),
		ch:    make(chan string, 1),
		done:  make(chan struct{}),
	}
	signal.Notify(s.sigCh, sigs...)
	go func() {
		for {
			select {
			case <-s.sigCh:
				select {
				case s.ch <- ExitCommand:
				default:
				}
			case <-s.done:
				return
			}
		}
	}()
	return s
}

// Commands returns the command channel. It is never closed.
func (s *SignalSource) Commands() <-chan string {
	return s.ch
}

// Stop stops relaying signals.
func (s *SignalSource) Stop() {
	s.once.Do(func() {
		signal.Stop(s.sigCh)
		close(s.done)
	})
}

// Merge fans several command channels into one. The result closes as soon
// as any input closes.
func Merge(chans ...<-chan string) <-chan string {
	out := make(chan string)
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	if len(chans) == 0 {
		finish()
	}

	var wg sync.WaitGroup
	for _, c := range chans {
		wg.Add(1)
		go func(c <-chan string) {
			defer wg.Done()
			for {
				select {
				case line, ok := <-c:
					if !ok {
						finish()
						return
					}
					select {
					case out <- line:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(c)
	}
	go func() {
		<-done
		wg.Wait()
		close(out)
	}()
	return out
}
