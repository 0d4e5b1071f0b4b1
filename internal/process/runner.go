// Package process builds the external commands dstctl runs: the two
// dedicated server shards, the mods-only server update, and steamcmd.
package process

import (
	"context"
	"os/exec"
)

// Runner creates executable commands for a shard.
// The returned command must not be started yet.
type Runner interface {
	// BuildCommand returns a ready-to-start command for the given shard.
	BuildCommand(ctx context.Context, shard string) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// Shard names of the two cooperating server processes.
const (
	ShardCaves  = "Caves"
	ShardMaster = "Master"
)

// Shards lists both shards in launch order.
var Shards = [2]string{ShardCaves, ShardMaster}
