// Package config provides configuration management for dstctl.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// FileName is the config file dstctl looks for when --config is not given.
const FileName = "config.yaml"

// Config holds all configuration options. It is loaded once by the CLI and
// passed down by pointer.
type Config struct {
	// Directories
	LogDir     string `yaml:"log_dir"`
	SaveDir    string `yaml:"save_dir"`
	MigrateDir string `yaml:"migrate_dir"`
	GameDir    string `yaml:"game_dir"`

	// Cluster files generated during migration
	ClusterToken string   `yaml:"cluster_token"`
	Adminlist    []string `yaml:"adminlist"`

	// Updates
	SteamAccount  string `yaml:"steam_account"`
	SteamCMDPath  string `yaml:"steamcmd_path"`
	AppID         string `yaml:"app_id"`
	UpdateRetries int    `yaml:"update_retries"`

	// Server
	ServerBinary    string `yaml:"server_binary"`
	BinSubdir       string `yaml:"bin_subdir"`
	ExtraArgs       string `yaml:"extra_args"` // shell-quoted, appended to both shards
	ReadinessMarker string `yaml:"readiness_marker"`
	MonitorParent   bool   `yaml:"monitor_parent"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"` // empty = disabled
	LogFormat   string `yaml:"log_format"`   // json, text
	Verbose     bool   `yaml:"verbose"`
	TUI         bool   `yaml:"tui"`

	// Diagnostic modes (flags only)
	PrintCmd      bool `yaml:"-"`
	SkipPreflight bool `yaml:"-"`

	// Path is the file this config was read from; empty when defaults were used.
	Path string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		// Directories
		LogDir:     "logs",
		SaveDir:    filepath.Join(home, ".klei", "DoNotStarveTogether"),
		MigrateDir: "saves",
		GameDir:    filepath.Join(home, "Steam", "steamapps", "common", "Don't Starve Together Dedicated Server"),

		// Updates
		SteamAccount:  "anonymous",
		SteamCMDPath:  "steamcmd",
		AppID:         "343050",
		UpdateRetries: 3,

		// Server
		ServerBinary:    "dontstarve_dedicated_server_nullrenderer_x64",
		BinSubdir:       "bin64",
		ReadinessMarker: "Sim paused",
		MonitorParent:   true,

		// Observability
		MetricsAddr: "",
		Verbose:     false,
		LogFormat:   "text",
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the defaults are returned with Path left empty.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Path = path
	cfg.expandPaths()
	return cfg, nil
}

// ResolvePath returns the config file to load: the explicit path if given,
// otherwise config.yaml in the working directory, otherwise config.yaml next
// to the executable.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), FileName)
	}
	return FileName
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.LogDir, &c.SaveDir, &c.MigrateDir, &c.GameDir} {
		*p = expandHome(*p)
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// BinDir is the server's bin directory, which is also the shards' working
// directory.
func (c *Config) BinDir() string {
	return filepath.Join(c.GameDir, c.BinSubdir)
}

// SavePath is the live cluster directory for a save.
func (c *Config) SavePath(save string) string {
	return filepath.Join(c.SaveDir, save)
}

// MigratePath is where a save is migrated from.
func (c *Config) MigratePath(save string) string {
	return filepath.Join(c.MigrateDir, save)
}

// BackupDir holds timestamped save copies.
func (c *Config) BackupDir() string {
	return filepath.Join(c.SaveDir, "backups")
}

// ModOverridesPath is the Master shard's mod override file of a save.
func (c *Config) ModOverridesPath(save string) string {
	return filepath.Join(c.SavePath(save), "Master", "modoverrides.lua")
}

// ModsSetupPath is the server-wide mod download list.
func (c *Config) ModsSetupPath() string {
	return filepath.Join(c.GameDir, "mods", "dedicated_server_mods_setup.lua")
}

// ExtraArgList splits ExtraArgs with shell quoting rules.
func (c *Config) ExtraArgList() ([]string, error) {
	if strings.TrimSpace(c.ExtraArgs) == "" {
		return nil, nil
	}
	return shlex.Split(c.ExtraArgs)
}
