package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/randomizedcoder/dstctl/internal/mods"
	"github.com/randomizedcoder/dstctl/internal/preflight"
	"github.com/randomizedcoder/dstctl/internal/process"
	"github.com/randomizedcoder/dstctl/internal/savegame"
	"github.com/randomizedcoder/dstctl/internal/updater"
)

// Update installs or validates the game with steamcmd, regenerates the mod
// list and downloads the save's server mods.
func (o *Orchestrator) Update(ctx context.Context) error {
	unlock, err := o.lock()
	if err != nil {
		return err
	}
	defer unlock()

	return o.update(ctx)
}

func (o *Orchestrator) update(ctx context.Context) error {
	if !o.config.SkipPreflight {
		result := preflight.RunUpdate(o.config)
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return ErrPreflightFailed
		}
	}

	u := updater.New(updater.Config{
		SteamCMD: process.SteamCMD{
			Path:    o.config.SteamCMDPath,
			Account: o.config.SteamAccount,
			AppID:   o.config.AppID,
		},
		Server:  o.server,
		Retries: o.config.UpdateRetries,
		Stdout:  o.out,
		Stderr:  o.out,
		Logger:  o.logger,
	})

	fmt.Fprintln(o.out, "Updating game...")
	if err := u.UpdateServer(ctx); err != nil {
		return err
	}
	fmt.Fprintln(o.out, "Game update completed.")

	o.generateModsSetup()

	fmt.Fprintln(o.out, "Updating server mods...")
	if err := u.UpdateMods(ctx); err != nil {
		return err
	}
	fmt.Fprintln(o.out, "Server mod update completed.")
	return nil
}

// generateModsSetup rewrites the server mod list from the save's overrides.
// A missing overrides file is only a warning.
func (o *Orchestrator) generateModsSetup() {
	overrides := o.config.ModOverridesPath(o.save)
	setup := o.config.ModsSetupPath()

	ids, err := mods.Generate(overrides, setup)
	switch {
	case errors.Is(err, mods.ErrNoOverrides):
		fmt.Fprintf(o.out, "Warning: %s not found. Cannot generate mods setup file.\n", overrides)
	case err != nil:
		fmt.Fprintf(o.out, "Warning: generating mods setup failed: %v\n", err)
		o.logger.Warn("mods_setup_failed", "error", err)
	default:
		o.logger.Info("mods_setup_generated", "path", setup, "mods", len(ids))
		fmt.Fprintf(o.out, "Generated mods setup file at %s\n", setup)
	}
}

// Migrate copies the save from the migrate dir into the save dir and
// regenerates the mod list.
func (o *Orchestrator) Migrate() error {
	src := o.config.MigratePath(o.save)
	dst := o.config.SavePath(o.save)

	res, err := savegame.Migrate(src, dst, savegame.Files{
		ClusterToken: o.config.ClusterToken,
		Adminlist:    o.config.Adminlist,
	}, o.logger)
	for _, p := range res.Generated {
		fmt.Fprintf(o.out, "Generated %s\n", p)
	}
	if err != nil {
		return fmt.Errorf("migration of %s aborted: %w", src, err)
	}
	if res.Skipped {
		fmt.Fprintf(o.out, "Warning: Save folder %s not found. Migration skipped.\n", src)
		return nil
	}
	if len(res.Report.MissingOptional) > 0 {
		fmt.Fprintf(o.out, "Warning: Missing optional files in the save folder: %s\n", strings.Join(res.Report.MissingOptional, ", "))
	}
	if res.Replaced {
		fmt.Fprintf(o.out, "Replaced existing save folder %s\n", dst)
	}
	fmt.Fprintf(o.out, "Migrated save from %s to %s\n", src, dst)

	o.generateModsSetup()
	return nil
}

// Backup copies the save into the backup dir under a timestamped name.
func (o *Orchestrator) Backup() (string, error) {
	path, err := savegame.Backup(o.config.SavePath(o.save), o.config.BackupDir(), o.save, o.now())
	if err != nil {
		return "", fmt.Errorf("backup aborted: %w", err)
	}
	fmt.Fprintf(o.out, "Backup created successfully at %s\n", path)
	return path, nil
}

// Check reports whether the save has everything the server needs.
func (o *Orchestrator) Check(w io.Writer) error {
	path := o.config.SavePath(o.save)
	report, err := savegame.CheckStructure(path)
	if err != nil {
		return err
	}
	if len(report.MissingOptional) > 0 {
		fmt.Fprintf(w, "Warning: Missing optional files in the save folder: %s\n", strings.Join(report.MissingOptional, ", "))
	}
	if err := report.Err(); err != nil {
		fmt.Fprintf(w, "Some necessary files are missing in the save folder: %s\n", path)
		return err
	}
	fmt.Fprintf(w, "All necessary files exist in the save folder: %s\n", path)
	return nil
}
