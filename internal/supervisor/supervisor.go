package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/dstctl/internal/pump"
	"github.com/randomizedcoder/dstctl/internal/readiness"
	"github.com/randomizedcoder/dstctl/internal/runlog"
)

// SystemTag tags lines dstctl itself writes into the run log.
const SystemTag = "dstctl"

// ShardSpec describes how to launch one shard.
type ShardSpec struct {
	Tag  string
	Path string
	Args []string
}

// SessionConfig describes one run of the two-shard group.
type SessionConfig struct {
	// Save is the cluster/save name; it names the run log.
	Save string

	// Dir is the working directory of both shards.
	Dir string

	// LogDir must already exist.
	LogDir string

	// Marker is the readiness substring. Empty never signals, so Start
	// blocks until ctx is done.
	Marker string

	Shards [2]ShardSpec
}

func (c SessionConfig) validate() error {
	if c.Save == "" {
		return errors.New("session: save name is required")
	}
	if c.LogDir == "" {
		return errors.New("session: log directory is required")
	}
	seen := make(map[string]bool, len(c.Shards))
	for i, spec := range c.Shards {
		if spec.Tag == "" {
			return fmt.Errorf("session: shard %d has no tag", i)
		}
		if seen[spec.Tag] {
			return fmt.Errorf("session: duplicate shard tag %q", spec.Tag)
		}
		seen[spec.Tag] = true
		if spec.Path == "" {
			return fmt.Errorf("session: shard %s has no executable", spec.Tag)
		}
	}
	return nil
}

// SpawnError reports that a shard process could not be created.
type SpawnError struct {
	Shard string
	Path  string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Shard, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ShardExit describes how a shard process ended.
type ShardExit struct {
	Shard    string
	PID      int
	ExitCode int
	Uptime   time.Duration

	// Expected is true when the exit followed Stop.
	Expected bool
}

// Callbacks contains optional callback functions for session events.
type Callbacks struct {
	// OnStateChange is called when the session state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a shard process starts.
	OnStart func(shard string, pid int)

	// OnReady is called once, when the readiness gate opens.
	OnReady func(shard string, elapsed time.Duration)

	// OnExit is called when a shard process exits.
	OnExit func(exit ShardExit)
}

// Config holds configuration for creating a Supervisor.
type Config struct {
	Logger    *slog.Logger
	Callbacks Callbacks

	// Observers see every shard line after it reaches the run log.
	Observers []pump.Observer

	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

// Supervisor launches and tears down two-shard sessions.
type Supervisor struct {
	logger       *slog.Logger
	callbacks    Callbacks
	observers    []pump.Observer
	newSessionID func() string
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	newID := cfg.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Supervisor{
		logger:       logger,
		callbacks:    cfg.Callbacks,
		observers:    cfg.Observers,
		newSessionID: newID,
	}
}

// child is one spawned shard process.
type child struct {
	tag       string
	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	pump      *pump.Pump

	waitDone chan struct{}
	exitCode int // valid once waitDone is closed
	uptime   time.Duration
}

// Session is one run of the two-shard group.
type Session struct {
	id        string
	save      string
	startedAt time.Time
	logger    *slog.Logger
	callbacks Callbacks
	observers []pump.Observer
	marker    string

	sink   *runlog.Sink
	gate   *readiness.Gate
	shards [2]*child

	state   State
	stateMu sync.RWMutex

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error

	exited chan ShardExit
}

// Start spawns both shards, wires each to its own pump, and blocks until
// the readiness gate opens. There is no startup timeout: a server that
// never prints the marker is still starting.
//
// If a shard cannot be spawned, any shard already running is terminated and
// a *SpawnError is returned with no session. If ctx is done before the gate
// opens, the session is stopped gracefully and ctx.Err() is returned.
func (s *Supervisor) Start(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for _, spec := range cfg.Shards {
		if err := checkExecutable(spec.Path, cfg.Dir); err != nil {
			s.logger.Error("shard_spawn_failed", "shard", spec.Tag, "path", spec.Path, "error", err)
			return nil, &SpawnError{Shard: spec.Tag, Path: spec.Path, Err: err}
		}
	}

	startedAt := time.Now()
	sink, err := runlog.Open(cfg.LogDir, cfg.Save, startedAt)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		id:        s.newSessionID(),
		save:      cfg.Save,
		startedAt: startedAt,
		logger:    s.logger,
		callbacks: s.callbacks,
		observers: s.observers,
		marker:    cfg.Marker,
		sink:      sink,
		gate:      readiness.New(),
		state:     StateCreated,
		exited:    make(chan ShardExit, len(cfg.Shards)),
	}

	if err := sink.WriteStart(sess.id); err != nil {
		_ = sink.Close()
		return nil, err
	}

	s.logger.Info("session_starting",
		"session_id", sess.id,
		"save", cfg.Save,
		"log_file", sink.Path(),
		"dir", cfg.Dir,
	)
	sess.setState(StateStarting)

	for i, spec := range cfg.Shards {
		c, err := sess.spawn(spec, cfg.Dir)
		if err != nil {
			s.logger.Error("shard_spawn_failed", "shard", spec.Tag, "path", spec.Path, "error", err)
			_ = sink.Append(SystemTag, err.Error())
			_ = sess.Stop()
			return nil, err
		}
		sess.shards[i] = c
	}

	if err := sess.gate.WaitContext(ctx); err != nil {
		s.logger.Warn("session_start_cancelled", "session_id", sess.id, "error", err)
		_ = sess.Stop()
		return nil, err
	}

	elapsed := sess.gate.SignaledAt().Sub(startedAt)
	sess.setState(StateReady)
	s.logger.Info("session_ready",
		"session_id", sess.id,
		"shard", sess.gate.Source(),
		"elapsed", elapsed.String(),
	)
	if s.callbacks.OnReady != nil {
		s.callbacks.OnReady(sess.gate.Source(), elapsed)
	}

	return sess, nil
}

// spawn starts one shard with stdin on the null device and stdout/stderr
// sharing a single pipe.
func (sess *Session) spawn(spec ShardSpec, dir string) (*child, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Shard: spec.Tag, Path: spec.Path, Err: fmt.Errorf("output pipe: %w", err)}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw

	// Own process group: terminal Ctrl+C does not reach the shards, and
	// the terminate signal covers anything they fork.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Shard: spec.Tag, Path: spec.Path, Err: err}
	}

	// The shard holds the only write end now, so the pump sees EOF when it exits.
	pw.Close()

	c := &child{
		tag:       spec.Tag,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startTime: start,
		waitDone:  make(chan struct{}),
	}
	c.pump = pump.New(pump.Config{
		Tag:       spec.Tag,
		Marker:    sess.marker,
		Reader:    pr,
		Sink:      sess.sink,
		Gate:      sess.gate,
		Observers: sess.observers,
	})

	go func() {
		err := c.pump.Run()
		pr.Close()
		sess.pumpFinished(c, err)
	}()
	go sess.reap(c)

	sess.logger.Info("shard_started",
		"session_id", sess.id,
		"shard", spec.Tag,
		"pid", c.pid,
		"args", strings.Join(spec.Args, " "),
	)
	if sess.callbacks.OnStart != nil {
		sess.callbacks.OnStart(spec.Tag, c.pid)
	}
	return c, nil
}

// reap waits for the process and records its exit status.
func (sess *Session) reap(c *child) {
	waitErr := c.cmd.Wait()
	exit := ShardExit{
		Shard:    c.tag,
		PID:      c.pid,
		ExitCode: extractExitCode(waitErr),
		Uptime:   time.Since(c.startTime),
		Expected: sess.stopping.Load(),
	}

	if exit.Expected {
		sess.logger.Info("shard_exited",
			"session_id", sess.id,
			"shard", c.tag,
			"pid", c.pid,
			"exit_code", exit.ExitCode,
			"uptime", exit.Uptime.String(),
		)
	} else {
		sess.logger.Warn("shard_exited_unexpectedly",
			"session_id", sess.id,
			"shard", c.tag,
			"pid", c.pid,
			"exit_code", exit.ExitCode,
			"uptime", exit.Uptime.String(),
		)
		_ = sess.sink.Append(SystemTag, fmt.Sprintf("%s exited unexpectedly with code %d", c.tag, exit.ExitCode))
	}

	c.exitCode = exit.ExitCode
	c.uptime = exit.Uptime
	close(c.waitDone)

	if sess.callbacks.OnExit != nil {
		sess.callbacks.OnExit(exit)
	}
	select {
	case sess.exited <- exit:
	default:
	}
}

// pumpFinished logs why a pump retired. Failures stay local to that shard.
func (sess *Session) pumpFinished(c *child, err error) {
	if err == nil {
		sess.logger.Debug("shard_output_closed", "session_id", sess.id, "shard", c.tag)
		return
	}
	var streamErr *pump.StreamError
	if errors.As(err, &streamErr) {
		sess.logger.Warn("shard_stream_error", "session_id", sess.id, "shard", c.tag, "error", streamErr.Err)
	}
	var writeErr *runlog.WriteError
	if errors.As(err, &writeErr) {
		sess.logger.Error("run_log_write_failed", "session_id", sess.id, "shard", c.tag, "error", writeErr)
	}
}

// Stop sends SIGTERM to both shards and waits, without a timeout, for both
// processes to be reaped and both pumps to drain. It then writes the end
// marker and closes the run log. A shard that already exited is skipped.
// Safe to call more than once; later calls return the first result.
func (sess *Session) Stop() error {
	sess.stopOnce.Do(func() {
		sess.stopErr = sess.stop()
	})
	return sess.stopErr
}

func (sess *Session) stop() error {
	sess.stopping.Store(true)
	sess.setState(StateStopping)
	sess.logger.Info("session_stopping", "session_id", sess.id)

	for _, c := range sess.shards {
		if c != nil {
			sess.terminate(c)
		}
	}

	for _, c := range sess.shards {
		if c == nil {
			continue
		}
		<-c.waitDone
		<-c.pump.Done()

		st := c.pump.Stats()
		sess.logger.Info("shard_summary",
			"session_id", sess.id,
			"shard", c.tag,
			"exit_code", c.exitCode,
			"uptime", c.uptime.String(),
			"lines", st.Lines,
			"bytes", st.Bytes,
			"write_errors", st.WriteErrors,
			"gap_p50", st.GapP50.String(),
			"gap_p99", st.GapP99.String(),
			"max_gap", st.MaxGap.String(),
		)
	}

	var errs []error
	if err := sess.sink.WriteEnd(sess.id); err != nil {
		errs = append(errs, err)
	}
	if err := sess.sink.Close(); err != nil {
		errs = append(errs, err)
	}

	sess.setState(StateStopped)
	sess.logger.Info("session_stopped", "session_id", sess.id, "log_file", sess.sink.Path())
	return errors.Join(errs...)
}

// terminate asks a shard to exit. SIGTERM, never SIGKILL: the server
// saves the world on the way out.
//
// The group is signalled even when the leader is already reaped: anything
// it forked keeps the group and the output pipe alive, and the pump only
// finishes once they are gone.
func (sess *Session) terminate(c *child) {
	// Setpgid makes the shard's pid its group id.
	err := syscall.Kill(-c.pid, syscall.SIGTERM)
	if err == nil {
		return
	}
	if !errors.Is(err, syscall.ESRCH) {
		sess.logger.Warn("shard_group_signal_failed", "session_id", sess.id, "shard", c.tag, "pgid", c.pid, "error", err)
	}

	select {
	case <-c.waitDone:
		return
	default:
	}
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		sess.logger.Warn("shard_signal_failed", "session_id", sess.id, "shard", c.tag, "pid", c.pid, "error", err)
	}
}

// ID returns the session identifier written in the run log markers.
func (sess *Session) ID() string {
	return sess.id
}

// Save returns the cluster/save name.
func (sess *Session) Save() string {
	return sess.save
}

// StartedAt returns when the session was created.
func (sess *Session) StartedAt() time.Time {
	return sess.startedAt
}

// LogPath returns the run log file path.
func (sess *Session) LogPath() string {
	return sess.sink.Path()
}

// Gate returns the session's readiness gate.
func (sess *Session) Gate() *readiness.Gate {
	return sess.gate
}

// Exited delivers each shard exit once, in exit order.
func (sess *Session) Exited() <-chan ShardExit {
	return sess.exited
}

// PIDs returns the process ID of each started shard.
func (sess *Session) PIDs() map[string]int {
	out := make(map[string]int, len(sess.shards))
	for _, c := range sess.shards {
		if c != nil {
			out[c.tag] = c.pid
		}
	}
	return out
}

// ExitCodes returns the exit code of each shard that has exited. After
// Stop returns it contains both shards.
func (sess *Session) ExitCodes() map[string]int {
	out := make(map[string]int, len(sess.shards))
	for _, c := range sess.shards {
		if c == nil {
			continue
		}
		select {
		case <-c.waitDone:
			out[c.tag] = c.exitCode
		default:
		}
	}
	return out
}

// PumpStats returns the output counters of each shard.
func (sess *Session) PumpStats() map[string]pump.Stats {
	out := make(map[string]pump.Stats, len(sess.shards))
	for _, c := range sess.shards {
		if c != nil {
			out[c.tag] = c.pump.Stats()
		}
	}
	return out
}

// PumpErrors returns the error each finished pump retired with, if any.
func (sess *Session) PumpErrors() map[string]error {
	out := make(map[string]error)
	for _, c := range sess.shards {
		if c == nil {
			continue
		}
		if err := c.pump.Err(); err != nil {
			out[c.tag] = err
		}
	}
	return out
}

// State returns the current state of the session.
func (sess *Session) State() State {
	sess.stateMu.RLock()
	defer sess.stateMu.RUnlock()
	return sess.state
}

// setState updates the state and calls the callback if registered.
func (sess *Session) setState(newState State) {
	sess.stateMu.Lock()
	oldState := sess.state
	sess.state = newState
	sess.stateMu.Unlock()

	if sess.callbacks.OnStateChange != nil && oldState != newState {
		sess.callbacks.OnStateChange(oldState, newState)
	}
}

// checkExecutable catches missing or non-executable binaries before the
// run log is created. Relative paths resolve against dir, as exec does.
func checkExecutable(path, dir string) error {
	if !strings.ContainsRune(path, filepath.Separator) {
		_, err := exec.LookPath(path)
		return err
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s: %w", path, os.ErrPermission)
	}
	return nil
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
