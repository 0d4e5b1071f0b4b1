package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/dstctl/internal/control"
	"github.com/randomizedcoder/dstctl/internal/metrics"
	"github.com/randomizedcoder/dstctl/internal/preflight"
	"github.com/randomizedcoder/dstctl/internal/process"
	"github.com/randomizedcoder/dstctl/internal/pump"
	"github.com/randomizedcoder/dstctl/internal/supervisor"
	"github.com/randomizedcoder/dstctl/internal/timeseries"
	"github.com/randomizedcoder/dstctl/internal/tui"
)

// recentLinesOnExit is how many lines of a crashed shard are logged.
const recentLinesOnExit = 20

var (
	// ErrPreflightFailed is returned when a required preflight check fails.
	ErrPreflightFailed = errors.New("preflight checks failed (use --skip-preflight to override)")

	// ErrShardsExited is returned when every shard exits before readiness.
	ErrShardsExited = errors.New("all shards exited before the server became ready")

	// ErrStartAborted is returned when the operator asks to exit during
	// startup.
	ErrStartAborted = errors.New("startup aborted by operator")
)

// Start runs the server for the save until the operator terminates it.
func (o *Orchestrator) Start(ctx context.Context) error {
	unlock, err := o.lock()
	if err != nil {
		return err
	}
	defer unlock()

	return o.start(ctx)
}

// UpdateAndStart updates the game and mods, then starts the server, holding
// the save lock throughout.
func (o *Orchestrator) UpdateAndStart(ctx context.Context) error {
	unlock, err := o.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := o.update(ctx); err != nil {
		return err
	}
	return o.start(ctx)
}

// sessionConfig builds the supervisor's view of the two shards.
func (o *Orchestrator) sessionConfig(ctx context.Context) (supervisor.SessionConfig, error) {
	sc := supervisor.SessionConfig{
		Save:   o.save,
		Dir:    o.server.WorkDir(),
		LogDir: o.config.LogDir,
		Marker: o.config.ReadinessMarker,
	}
	specs, err := shardSpecs(ctx, o.server)
	if err != nil {
		return sc, err
	}
	sc.Shards = specs
	return sc, nil
}

// shardSpecs turns the runner's commands into launch specs, in launch order.
func shardSpecs(ctx context.Context, r process.Runner) ([2]supervisor.ShardSpec, error) {
	var specs [2]supervisor.ShardSpec
	for i, shard := range process.Shards {
		cmd, err := r.BuildCommand(ctx, shard)
		if err != nil {
			return specs, fmt.Errorf("%s %s: %w", r.Name(), shard, err)
		}
		specs[i] = supervisor.ShardSpec{
			Tag:  shard,
			Path: cmd.Path,
			Args: cmd.Args[1:],
		}
	}
	return specs, nil
}

func (o *Orchestrator) start(ctx context.Context) error {
	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config, o.save)
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return ErrPreflightFailed
		}
	}

	sessCfg, err := o.sessionConfig(ctx)
	if err != nil {
		return err
	}

	if o.config.MetricsAddr != "" {
		srv := metrics.NewServer(o.config.MetricsAddr, o.registry, o.metrics.IsReady, o.logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	track := newTracker(o.now())
	startCtx, cancelStart := context.WithCancelCause(ctx)
	defer cancelStart(nil)

	observers := []pump.Observer{o.metrics, o.echo, track.rates}
	ratesCtx, stopRates := context.WithCancel(ctx)
	defer stopRates()
	go track.rates.Run(ratesCtx, timeseries.DefaultInterval)

	// Dashboard
	var (
		program  *tea.Program
		tuiCmds  chan string
		tuiDone  chan struct{}
		loopOut  = o.out
		feed     *tui.Feed
		feedSink *feedWriter
	)
	if o.config.TUI {
		feed = tui.NewFeed(tui.DefaultFeedSize)
		feedSink = &feedWriter{feed: feed, tag: supervisor.SystemTag}
		observers = append(observers, feed)
		loopOut = feedSink
		tuiCmds = make(chan string)
		tuiDone = make(chan struct{})

		model := tui.New(tui.Config{
			Save:         o.save,
			Commands:     tuiCmds,
			StatusSource: tui.StatusFunc(func() tui.Status { return o.status(track) }),
			Feed:         feed,
		})
		program = tea.NewProgram(model, tea.WithAltScreen())
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Error("tui_error", "error", err)
			}
		}()
		defer func() {
			tui.SendQuit(program)
			<-tuiDone
		}()
	}

	sup := supervisor.New(supervisor.Config{
		Logger:    o.logger,
		Observers: observers,
		Callbacks: supervisor.Callbacks{
			OnStateChange: track.setState,
			OnStart: func(shard string, pid int) {
				track.started(shard, pid)
				o.metrics.ShardStarted(shard)
			},
			OnReady: func(shard string, elapsed time.Duration) {
				track.ready(elapsed)
				o.metrics.Ready(elapsed)
			},
			OnExit: func(exit supervisor.ShardExit) {
				track.exited(exit)
				o.metrics.ShardExited(exit.Shard, exit.ExitCode, exit.Uptime)
				if !exit.Expected {
					o.reportUnexpectedExit(exit)
				}
				if track.allExited(len(process.Shards)) {
					cancelStart(ErrShardsExited)
				}
			},
		},
	})

	// Signals and dashboard input during startup abort the start.
	var signalSrc *control.SignalSource
	if o.signals {
		signalSrc = control.NewSignalSource(syscall.SIGINT, syscall.SIGTERM)
		defer signalSrc.Stop()
	}
	startDone := make(chan struct{})
	var watchWG sync.WaitGroup
	watchWG.Add(1)
	go func() {
		defer watchWG.Done()
		o.watchStartup(startDone, cancelStart, signalCommands(signalSrc), tuiCmds)
	}()

	fmt.Fprintf(loopOut, "Starting server for %s...\n", o.save)
	o.metrics.SessionStarted()
	sess, err := sup.Start(startCtx, sessCfg)
	close(startDone)
	watchWG.Wait()
	if err != nil {
		o.metrics.SessionStopped()
		if cause := context.Cause(startCtx); cause != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return cause
		}
		return err
	}

	fmt.Fprintf(loopOut, "Server started successfully, log saved in %s. Type 'e' or 'exit' to terminate the server.\n", sess.LogPath())

	// Operator commands
	var sources []<-chan string
	switch {
	case o.commands != nil:
		sources = append(sources, o.commands)
	case tuiCmds != nil:
		sources = append(sources, tuiCmds)
	default:
		src, closer, err := control.StdinSource("> ")
		if err != nil {
			_ = sess.Stop()
			return fmt.Errorf("open console: %w", err)
		}
		defer closer.Close()
		if ts, ok := src.(interface{ Stdout() io.Writer }); ok {
			loopOut = ts.Stdout()
		}
		sources = append(sources, src.Commands())
	}
	if signalSrc != nil {
		sources = append(sources, signalSrc.Commands())
	}

	loop := control.New(control.Config{
		Commands: control.Merge(sources...),
		Out:      loopOut,
		Stopper:  sess,
		Logger:   o.logger,
		Status:   o.statusLine(track),
	})
	runErr := loop.Run(ctx)
	o.metrics.SessionStopped()

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
		loopOut = o.out
	}
	fmt.Fprintln(loopOut, "Game End.")
	o.printExitSummary(o.out, sess)
	if o.config.Verbose {
		if err := metrics.WriteText(o.out, o.registry); err != nil {
			o.logger.Warn("metrics_dump_failed", "error", err)
		}
	}
	return runErr
}

// watchStartup cancels the start when the operator asks to exit before the
// server is ready. Other input is dropped. Nil channels are ignored.
func (o *Orchestrator) watchStartup(done <-chan struct{}, cancel context.CancelCauseFunc, signals, dashboard <-chan string) {
	for {
		var line string
		select {
		case <-done:
			return
		case line = <-signals:
		case l, ok := <-dashboard:
			if !ok {
				dashboard = nil
				continue
			}
			line = l
		}

		if cmd, _ := control.Parse(line); cmd == control.CommandExit {
			o.logger.Info("startup_abort_requested")
			cancel(ErrStartAborted)
			return
		}
		o.logger.Debug("startup_input_ignored", "line", line)
	}
}

// reportUnexpectedExit logs the last lines of a shard that died on its own.
func (o *Orchestrator) reportUnexpectedExit(exit supervisor.ShardExit) {
	recent := o.echo.RecentLines(exit.Shard, recentLinesOnExit)
	o.logger.Warn("shard_recent_output",
		"shard", exit.Shard,
		"exit_code", exit.ExitCode,
		"lines", strings.Join(recent, "\n"),
	)
	if !o.config.TUI {
		fmt.Fprintf(o.out, "%s exited unexpectedly with code %d. Type 'e' or 'exit' to terminate the server.\n",
			exit.Shard, exit.ExitCode)
	}
}

func signalCommands(s *control.SignalSource) <-chan string {
	if s == nil {
		return nil
	}
	return s.Commands()
}

func (t *tracker) allExited(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exits) >= n
}

// feedWriter shows control loop messages in the dashboard feed.
type feedWriter struct {
	mu   sync.Mutex
	feed *tui.Feed
	tag  string
	buf  []byte
}

func (w *feedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := strings.IndexByte(string(w.buf), '\n')
		if i < 0 {
			break
		}
		w.feed.ObserveLine(w.tag, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
