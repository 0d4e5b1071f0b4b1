// Package cli provides the dstctl command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/dstctl/internal/config"
	"github.com/randomizedcoder/dstctl/internal/logging"
)

// app carries what every subcommand needs once the root has loaded the
// config.
type app struct {
	version string
	flags   config.Flags
	cfg     *config.Config
	logger  *slog.Logger
}

// Execute runs dstctl with os.Args and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute(version string) int {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{version: version}

	root := &cobra.Command{
		Use:     "dstctl",
		Short:   "Run and maintain a two-shard Don't Starve Together server",
		Version: version,
		Long: `dstctl runs the Master and Caves shards of a Don't Starve Together
dedicated server as one unit, captures both shards' output into a
per-run log, and stops them gracefully when told to exit.

It also migrates, checks, backs up and updates saves.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.SetVersionTemplate("dstctl {{.Version}}\n")
	a.flags.Register(root.PersistentFlags())

	start := newStartCmd(a)
	updateStart := newUpdateStartCmd(a)
	a.flags.RegisterStart(start.Flags())
	a.flags.RegisterStart(updateStart.Flags())

	root.AddCommand(
		newMigrateCmd(a),
		newUpdateCmd(a),
		start,
		updateStart,
		newBackupCmd(a),
		newCheckCmd(a),
		newVersionCmd(a),
	)
	return root
}

// load reads the config file, applies flag overrides and sets up logging.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	path := config.ResolvePath(a.flags.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.flags.Apply(cfg, cmd.Flags())
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	a.cfg = cfg

	// The dashboard owns the terminal; log output would corrupt it.
	if cfg.TUI {
		a.logger = logging.Discard()
	} else {
		a.logger = logging.New(logging.Options{
			Writer:  cmd.ErrOrStderr(),
			Format:  cfg.LogFormat,
			Level:   "info",
			Verbose: cfg.Verbose,
		})
	}
	logging.SetDefault(a.logger)

	if cfg.Path == "" {
		a.logger.Warn("config_not_found", "path", path, "using", "defaults")
	} else {
		a.logger.Debug("config_loaded", "path", cfg.Path)
	}
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dstctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dstctl %s\n", a.version)
		},
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminalFd(f.Fd())
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}
