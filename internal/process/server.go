package process

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ServerConfig holds configuration for the dedicated server binary.
type ServerConfig struct {
	// BinDir is the directory holding the server binary. Shards run with
	// it as their working directory.
	BinDir string

	// Binary is the server executable name inside BinDir.
	Binary string

	// Cluster is the save/cluster name passed as -cluster.
	Cluster string

	// ParentPID is passed as -monitor_parent_process so shards exit if
	// dstctl dies. Zero omits the flag.
	ParentPID int

	// ExtraArgs are appended to every shard command line.
	ExtraArgs []string
}

// DefaultServerConfig returns a ServerConfig with the stock binary name.
func DefaultServerConfig(binDir, cluster string) *ServerConfig {
	return &ServerConfig{
		BinDir:  binDir,
		Binary:  "dontstarve_dedicated_server_nullrenderer_x64",
		Cluster: cluster,
	}
}

// DedicatedServer implements Runner for the game's dedicated server.
type DedicatedServer struct {
	config *ServerConfig
}

var _ Runner = (*DedicatedServer)(nil)

// NewDedicatedServer creates a runner for the given configuration.
func NewDedicatedServer(cfg *ServerConfig) *DedicatedServer {
	return &DedicatedServer{config: cfg}
}

// Name returns "dedicated_server".
func (d *DedicatedServer) Name() string {
	return "dedicated_server"
}

// BinaryPath returns the absolute or BinDir-relative path of the server.
func (d *DedicatedServer) BinaryPath() string {
	return filepath.Join(d.config.BinDir, d.config.Binary)
}

// WorkDir returns the working directory for every server invocation.
func (d *DedicatedServer) WorkDir() string {
	return d.config.BinDir
}

// ShardArgs returns the argument list for one shard.
func (d *DedicatedServer) ShardArgs(shard string) []string {
	args := []string{"-cluster", d.config.Cluster}
	if d.config.ParentPID > 0 {
		args = append(args, "-monitor_parent_process", strconv.Itoa(d.config.ParentPID))
	}
	args = append(args, "-shard", shard)
	return append(args, d.config.ExtraArgs...)
}

// BuildCommand creates the command for a shard. The context is not bound
// to the command: cancelling it must not SIGKILL a server that is still
// saving, so shutdown always goes through the supervisor.
func (d *DedicatedServer) BuildCommand(_ context.Context, shard string) (*exec.Cmd, error) {
	if d.config.Cluster == "" {
		return nil, errors.New("cluster name is required")
	}
	if shard != ShardCaves && shard != ShardMaster {
		return nil, errors.New("unknown shard " + strconv.Quote(shard))
	}
	cmd := exec.Command(d.BinaryPath(), d.ShardArgs(shard)...)
	cmd.Dir = d.config.BinDir
	return cmd, nil
}

// UpdateModsCommand returns the command that downloads the cluster's
// server mods and exits.
func (d *DedicatedServer) UpdateModsCommand(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, d.BinaryPath(),
		"-cluster", d.config.Cluster,
		"-only_update_server_mods",
	)
	cmd.Dir = d.config.BinDir
	return cmd
}

// Config returns the server configuration.
func (d *DedicatedServer) Config() *ServerConfig {
	return d.config
}

// CommandString returns the shard command line (for --print-cmd).
func (d *DedicatedServer) CommandString(shard string) string {
	return d.BinaryPath() + " " + strings.Join(d.ShardArgs(shard), " ")
}

// SteamCMD builds steamcmd invocations.
type SteamCMD struct {
	Path    string
	Account string
	AppID   string
}

// Args returns the app_update argument list.
func (s SteamCMD) Args() []string {
	return []string{"+login", s.Account, "+app_update", s.AppID, "validate", "+quit"}
}

// UpdateCommand returns the command that installs/validates the server.
func (s SteamCMD) UpdateCommand(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, s.Path, s.Args()...)
}
