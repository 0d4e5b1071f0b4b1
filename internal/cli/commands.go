package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/randomizedcoder/dstctl/internal/orchestrator"
	"github.com/randomizedcoder/dstctl/internal/tui"
)

// newOrchestrator builds the orchestrator for a save, writing to the
// command's stdout.
func (a *app) newOrchestrator(cmd *cobra.Command, save string) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(a.cfg, save, a.logger, orchestrator.Options{
		Version: a.version,
		Stdout:  cmd.OutOrStdout(),
	})
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "m <save>",
		Aliases: []string{"migrate"},
		Short:   "Migrate a save from the migrate dir into the save dir",
		Long: `Copies <migrate_dir>/<save> into <save_dir>/<save>, replacing any
existing copy. Missing cluster_token.txt and adminlist.txt are generated
from the config first, and the server mod list is regenerated from the
save's modoverrides.lua.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.newOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			return o.Migrate()
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "u <save>",
		Aliases: []string{"update"},
		Short:   "Update the game and the save's server mods",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.newOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.Update(ctx)
		},
	}
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "s <save>",
		Aliases: []string{"start"},
		Short:   "Start both shards and wait for the operator to exit",
		Long: `Starts the Caves and Master shards of <save>, writes their output to
<log_dir>/<save>_<timestamp>.log and returns once the operator types 'e'
or 'exit' and both shards have shut down.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.newOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			if a.cfg.PrintCmd {
				o.PrintCommands(cmd.OutOrStdout())
				return nil
			}
			a.announce(cmd, args[0])
			return o.Start(commandContext(cmd))
		},
	}
}

func newUpdateStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "us <save>",
		Aliases: []string{"update-start"},
		Short:   "Update the game and mods, then start the server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.newOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			if a.cfg.PrintCmd {
				o.PrintCommands(cmd.OutOrStdout())
				return nil
			}
			a.announce(cmd, args[0])
			return o.UpdateAndStart(commandContext(cmd))
		},
	}
}

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "b <save>",
		Aliases: []string{"backup"},
		Short:   "Copy the save into the backups dir",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.newOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			_, err = o.Backup()
			return err
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "c <save>",
		Aliases: []string{"check"},
		Short:   "Check that the save has everything the server needs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.newOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			return o.Check(cmd.OutOrStdout())
		},
	}
}

// announce logs the start and, on a terminal, prints the banner.
func (a *app) announce(cmd *cobra.Command, save string) {
	a.logger.Info("starting",
		"version", a.version,
		"save", save,
		"game_dir", a.cfg.GameDir,
		"log_dir", a.cfg.LogDir,
		"metrics_addr", a.cfg.MetricsAddr,
	)
	out := cmd.OutOrStdout()
	if a.cfg.TUI || !isTerminal(out) {
		return
	}
	fmt.Fprintln(out, tui.Banner(fmt.Sprintf(" dstctl %s │ %s ", a.version, save)))
	if a.cfg.MetricsAddr != "" {
		fmt.Fprintf(out, "  Metrics: http://%s/metrics\n", a.cfg.MetricsAddr)
	}
}

// commandContext returns the command's context. Signals are handled by
// the orchestrator, which turns them into an exit command.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func isTerminalFd(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
