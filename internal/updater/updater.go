// Package updater installs or validates the dedicated server through
// steamcmd and refreshes a cluster's server mods.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/randomizedcoder/dstctl/internal/process"
)

// UpdateError reports a failed update step.
type UpdateError struct {
	Step     string // "steamcmd" or "mods"
	Attempts int
	ExitCode int
	Err      error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (exit %d): %v", e.Step, e.Attempts, e.ExitCode, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Config configures an Updater.
type Config struct {
	SteamCMD process.SteamCMD
	Server   *process.DedicatedServer

	// Retries is how many times a failed steamcmd run is repeated.
	Retries int
	Backoff BackoffConfig
	Seed    int64

	// Subprocess output; both default to os.Stdout.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Updater runs the update subprocesses with their output on the console.
type Updater struct {
	steam   process.SteamCMD
	server  *process.DedicatedServer
	retries int
	backoff BackoffConfig
	seed    int64
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// New creates an Updater.
func New(cfg Config) *Updater {
	u := &Updater{
		steam:   cfg.SteamCMD,
		server:  cfg.Server,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		seed:    cfg.Seed,
		stdout:  cfg.Stdout,
		stderr:  cfg.Stderr,
		logger:  cfg.Logger,
	}
	if u.backoff == (BackoffConfig{}) {
		u.backoff = DefaultBackoffConfig()
	}
	if u.seed == 0 {
		u.seed = time.Now().UnixNano()
	}
	if u.stdout == nil {
		u.stdout = os.Stdout
	}
	if u.stderr == nil {
		u.stderr = os.Stdout
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u
}

// UpdateServer runs steamcmd app_update, retrying transient failures with
// exponential backoff.
func (u *Updater) UpdateServer(ctx context.Context) error {
	b := NewBackoff(u.seed, u.backoff)

	for {
		attempt := b.Attempts() + 1
		cmd := u.steam.UpdateCommand(ctx)
		cmd.Stdout = u.stdout
		cmd.Stderr = u.stderr

		u.logger.Info("server_update_starting", "steamcmd", u.steam.Path, "app_id", u.steam.AppID, "attempt", attempt)
		start := time.Now()
		err := cmd.Run()
		if err == nil {
			u.logger.Info("server_update_complete", "attempt", attempt, "duration", time.Since(start).String())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		code := exitCode(err)
		if b.Attempts() >= u.retries || !Retryable(code) {
			return &UpdateError{Step: "steamcmd", Attempts: attempt, ExitCode: code, Err: err}
		}

		delay := b.Next()
		u.logger.Warn("server_update_retry",
			"attempt", attempt,
			"retry", b.Attempts(),
			"retries", u.retries,
			"exit_code", code,
			"delay", delay.String(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// UpdateMods runs the server in mods-only mode for the configured cluster.
func (u *Updater) UpdateMods(ctx context.Context) error {
	if u.server == nil {
		return errors.New("no server configured")
	}
	cmd := u.server.UpdateModsCommand(ctx)
	cmd.Stdout = u.stdout
	cmd.Stderr = u.stderr

	u.logger.Info("mods_update_starting", "cluster", u.server.Config().Cluster, "dir", cmd.Dir)
	if err := cmd.Run(); err != nil {
		return &UpdateError{Step: "mods", Attempts: 1, ExitCode: exitCode(err), Err: err}
	}
	u.logger.Info("mods_update_complete", "cluster", u.server.Config().Cluster)
	return nil
}

// exitCode returns the process exit code, or -1 when the process never ran
// or was killed by a signal.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
