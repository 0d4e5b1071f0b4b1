// Package orchestrator assembles the pieces of one dstctl command: config,
// the per-save lock, preflight, metrics, the supervisor and the operator
// control loop.
package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/dstctl/internal/config"
	"github.com/randomizedcoder/dstctl/internal/logging"
	"github.com/randomizedcoder/dstctl/internal/metrics"
	"github.com/randomizedcoder/dstctl/internal/process"
)

// ErrLocked is returned when another dstctl already runs the save.
var ErrLocked = errors.New("save is in use by another dstctl process")

// Options holds the parts of an Orchestrator that differ between the CLI
// and tests.
type Options struct {
	Version string

	// Stdout receives operator-facing messages. Defaults to os.Stdout.
	Stdout io.Writer

	// Commands replaces stdin as the operator command source.
	Commands <-chan string

	// NoSignals disables converting SIGINT/SIGTERM into an exit command.
	NoSignals bool

	// Registry defaults to a fresh registry with Go and process collectors.
	Registry *prometheus.Registry

	Now func() time.Time
}

// Orchestrator coordinates all components for one save.
type Orchestrator struct {
	config *config.Config
	save   string
	logger *slog.Logger

	version  string
	out      io.Writer
	commands <-chan string
	signals  bool
	now      func() time.Time

	server   *process.DedicatedServer
	registry *prometheus.Registry
	metrics  *metrics.Collector
	echo     *logging.ShardEcho
}

// New creates an Orchestrator for save.
func New(cfg *config.Config, save string, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if err := config.ValidateSaveName(save); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}

	extra, err := cfg.ExtraArgList()
	if err != nil {
		return nil, fmt.Errorf("extra_args: %w", err)
	}
	serverCfg := process.DefaultServerConfig(cfg.BinDir(), save)
	serverCfg.Binary = cfg.ServerBinary
	serverCfg.ExtraArgs = extra
	if cfg.MonitorParent {
		serverCfg.ParentPID = os.Getpid()
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	o := &Orchestrator{
		config:   cfg,
		save:     save,
		logger:   logger,
		version:  opts.Version,
		out:      opts.Stdout,
		commands: opts.Commands,
		signals:  !opts.NoSignals,
		now:      opts.Now,
		server:   process.NewDedicatedServer(serverCfg),
		registry: registry,
		echo:     logging.NewShardEcho(logger, cfg.Verbose),
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: o.version,
		Save:    save,
	}, registry)
	return o, nil
}

// lock takes the per-save lock in the log directory. The returned func
// releases it.
func (o *Orchestrator) lock() (func(), error) {
	if err := os.MkdirAll(o.config.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	fileLock := flock.New(filepath.Join(o.config.LogDir, o.save+".lock"))

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, o.save)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

// PrintCommands writes both shard command lines to w.
func (o *Orchestrator) PrintCommands(w io.Writer) {
	fmt.Fprintf(w, "# cwd: %s\n", o.server.WorkDir())
	for _, shard := range process.Shards {
		fmt.Fprintln(w, o.server.CommandString(shard))
	}
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the metrics registry.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// Server returns the dedicated server command builder.
func (o *Orchestrator) Server() *process.DedicatedServer {
	return o.server
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}
