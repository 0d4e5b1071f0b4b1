package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// =============================================================================
// DefaultConfig
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "Sim paused", cfg.ReadinessMarker)
	assert.Equal(t, "dontstarve_dedicated_server_nullrenderer_x64", cfg.ServerBinary)
	assert.Equal(t, "bin64", cfg.BinSubdir)
	assert.Equal(t, "steamcmd", cfg.SteamCMDPath)
	assert.Equal(t, "343050", cfg.AppID)
	assert.Equal(t, "anonymous", cfg.SteamAccount)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsAddr)
	assert.True(t, cfg.MonitorParent)
	assert.NoError(t, Validate(cfg))
}

// =============================================================================
// Load
// =============================================================================

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_dir: /var/log/dst
save_dir: /srv/dst/saves
migrate_dir: /srv/dst/incoming
game_dir: /srv/dst/game
steam_account: anonymous
cluster_token: pds-g^KU_abc
adminlist:
  - KU_one
  - KU_two
extra_args: -tick 30 -port "10999"
update_retries: 5
metrics_addr: 127.0.0.1:17091
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/var/log/dst", cfg.LogDir)
	assert.Equal(t, "/srv/dst/saves", cfg.SaveDir)
	assert.Equal(t, "pds-g^KU_abc", cfg.ClusterToken)
	assert.Equal(t, []string{"KU_one", "KU_two"}, cfg.Adminlist)
	assert.Equal(t, 5, cfg.UpdateRetries)
	assert.Equal(t, "127.0.0.1:17091", cfg.MetricsAddr)

	// Unset keys keep their defaults
	assert.Equal(t, "Sim paused", cfg.ReadinessMarker)
	assert.Equal(t, "bin64", cfg.BinSubdir)

	args, err := cfg.ExtraArgList()
	require.NoError(t, err)
	assert.Equal(t, []string{"-tick", "30", "-port", "10999"}, args)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, DefaultConfig().ReadinessMarker, cfg.ReadinessMarker)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "Sim paused", cfg.ReadinessMarker)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "log_dirr: /tmp\n"},
		{"bad yaml", "log_dir: [unterminated\n"},
		{"wrong type", "update_retries: many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, "log_dir: ~/dst-logs\ngame_dir: /abs/game\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "dst-logs"), cfg.LogDir)
	assert.Equal(t, "/abs/game", cfg.GameDir)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/etc/dstctl.yaml", ResolvePath("/etc/dstctl.yaml"))
	assert.Equal(t, FileName, filepath.Base(ResolvePath("")))
}

// =============================================================================
// Derived paths
// =============================================================================

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{
		SaveDir:    "/saves",
		MigrateDir: "/incoming",
		GameDir:    "/game",
		BinSubdir:  "bin64",
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BinDir", cfg.BinDir(), "/game/bin64"},
		{"SavePath", cfg.SavePath("Cluster_1"), "/saves/Cluster_1"},
		{"MigratePath", cfg.MigratePath("Cluster_1"), "/incoming/Cluster_1"},
		{"BackupDir", cfg.BackupDir(), "/saves/backups"},
		{"ModOverridesPath", cfg.ModOverridesPath("Cluster_1"), "/saves/Cluster_1/Master/modoverrides.lua"},
		{"ModsSetupPath", cfg.ModsSetupPath(), "/game/mods/dedicated_server_mods_setup.lua"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestExtraArgList_Empty(t *testing.T) {
	args, err := (&Config{ExtraArgs: "   "}).ExtraArgList()
	require.NoError(t, err)
	assert.Nil(t, args)
}

// =============================================================================
// Validate
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing log dir", func(c *Config) { c.LogDir = "" }, "log_dir"},
		{"missing save dir", func(c *Config) { c.SaveDir = " " }, "save_dir"},
		{"missing game dir", func(c *Config) { c.GameDir = "" }, "game_dir"},
		{"missing binary", func(c *Config) { c.ServerBinary = "" }, "server_binary"},
		{"empty marker", func(c *Config) { c.ReadinessMarker = "" }, "readiness_marker"},
		{"bad extra args", func(c *Config) { c.ExtraArgs = `-x "open` }, "extra_args"},
		{"bad app id", func(c *Config) { c.AppID = "dst" }, "app_id"},
		{"negative retries", func(c *Config) { c.UpdateRetries = -1 }, "update_retries"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "17091" }, "metrics_addr"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)

			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = ""
	cfg.LogFormat = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_dir")
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidateSaveName(t *testing.T) {
	tests := []struct {
		save    string
		wantErr bool
	}{
		{"Cluster_1", false},
		{"my save", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc", true},
		{`a\b`, true},
	}
	for _, tt := range tests {
		t.Run(tt.save, func(t *testing.T) {
			err := ValidateSaveName(tt.save)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateSaveName(%q) = %v", tt.save, err)
		})
	}
}

// =============================================================================
// Flags
// =============================================================================

func TestFlags_ApplyOnlyChanged(t *testing.T) {
	var f Flags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Register(fs)
	f.RegisterStart(fs)

	require.NoError(t, fs.Parse([]string{"-v", "--metrics", "0.0.0.0:9000", "--print-cmd"}))

	cfg := DefaultConfig()
	cfg.LogFormat = "json" // from file; not overridden by the flag default
	f.Apply(cfg, fs)

	assert.True(t, cfg.Verbose)
	assert.Equal(t, "0.0.0.0:9000", cfg.MetricsAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.TUI)
	assert.True(t, cfg.PrintCmd)
	assert.False(t, cfg.SkipPreflight)
}

func TestFlags_StartFlagsAbsent(t *testing.T) {
	var f Flags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Register(fs)
	require.NoError(t, fs.Parse([]string{"--tui", "--log-format", "json"}))

	cfg := DefaultConfig()
	f.Apply(cfg, fs)
	assert.True(t, cfg.TUI)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.PrintCmd)
}
