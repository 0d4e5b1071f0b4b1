// Package control implements the operator control loop: it consumes one
// command at a time from a line channel and, on a terminate command, stops
// the running session and waits for it to finish.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/shlex"
)

// ErrUnrecognizedCommand is reported for input that is not a known command.
// It is never returned from Run.
var ErrUnrecognizedCommand = errors.New("unrecognized command")

// State is the control loop state.
type State int

const (
	StateAwaitingCommand State = iota
	StateShuttingDown
	StateDone
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingCommand:
		return "awaiting_command"
	case StateShuttingDown:
		return "shutting_down"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Command is a parsed operator command.
type Command int

const (
	CommandUnknown Command = iota
	CommandExit
	CommandStatus
	CommandHelp
)

// Parse maps one input line to a command. Only "e" and "exit" terminate;
// matching is case-insensitive and the terminate token must stand alone.
func Parse(line string) (Command, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return CommandUnknown, fmt.Errorf("%w: %v", ErrUnrecognizedCommand, err)
	}
	if len(tokens) != 1 {
		return CommandUnknown, ErrUnrecognizedCommand
	}
	switch strings.ToLower(tokens[0]) {
	case "e", "exit":
		return CommandExit, nil
	case "status":
		return CommandStatus, nil
	case "help", "?":
		return CommandHelp, nil
	}
	return CommandUnknown, ErrUnrecognizedCommand
}

// Stopper stops the supervised session and waits for it to finish.
type Stopper interface {
	Stop() error
}

// Config configures a Loop.
type Config struct {
	// Commands delivers operator input lines. A closed channel is treated
	// as a terminate command.
	Commands <-chan string

	// Out receives operator-facing messages.
	Out io.Writer

	Stopper Stopper
	Logger  *slog.Logger

	// Status renders the answer to the "status" command. Optional.
	Status func() string

	// OnStateChange is called when the loop changes state. Optional.
	OnStateChange func(oldState, newState State)
}

// Loop is the operator control loop for one session.
type Loop struct {
	commands      <-chan string
	out           io.Writer
	stopper       Stopper
	logger        *slog.Logger
	status        func() string
	onStateChange func(oldState, newState State)

	mu           sync.Mutex
	state        State
	unrecognized int
}

// New creates a Loop in the AwaitingCommand state.
func New(cfg Config) *Loop {
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{
		commands:      cfg.Commands,
		out:           out,
		stopper:       cfg.Stopper,
		logger:        logger,
		status:        cfg.Status,
		onStateChange: cfg.OnStateChange,
		state:         StateAwaitingCommand,
	}
}

// Run processes commands until a terminate command arrives, the command
// channel closes, or ctx is done. In every case the session is stopped
// before Run returns, and Run returns the result of that stop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("control_context_done", "error", ctx.Err())
			return l.shutdown()

		case line, ok := <-l.commands:
			if !ok {
				l.logger.Info("command_source_closed")
				return l.shutdown()
			}
			if l.handle(line) {
				return l.shutdown()
			}
		}
	}
}

// handle processes one line and reports whether it was a terminate command.
func (l *Loop) handle(line string) bool {
	cmd, err := Parse(line)
	switch cmd {
	case CommandExit:
		return true
	case CommandStatus:
		if l.status != nil {
			fmt.Fprintln(l.out, l.status())
		} else {
			fmt.Fprintln(l.out, "Server is running.")
		}
	case CommandHelp:
		fmt.Fprintln(l.out, "Commands: e, exit (stop the server), status, help")
	default:
		l.mu.Lock()
		l.unrecognized++
		l.mu.Unlock()
		l.logger.Debug("command_unrecognized", "input", line, "error", err)
		fmt.Fprintf(l.out, "Unknown command %q. Type 'e' or 'exit' to terminate the server.\n", strings.TrimSpace(line))
	}
	return false
}

func (l *Loop) shutdown() error {
	l.setState(StateShuttingDown)
	fmt.Fprintln(l.out, "Exiting...")

	var err error
	if l.stopper != nil {
		err = l.stopper.Stop()
	}
	if err != nil {
		l.logger.Error("session_stop_failed", "error", err)
	}

	l.setState(StateDone)
	return err
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Unrecognized returns how many unrecognized commands were seen.
func (l *Loop) Unrecognized() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unrecognized
}

func (l *Loop) setState(newState State) {
	l.mu.Lock()
	oldState := l.state
	l.state = newState
	l.mu.Unlock()

	if l.onStateChange != nil && oldState != newState {
		l.onStateChange(oldState, newState)
	}
}
