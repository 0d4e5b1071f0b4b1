// Package preflight provides startup validation checks.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/randomizedcoder/dstctl/internal/config"
	"github.com/randomizedcoder/dstctl/internal/savegame"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

const (
	// shardCount is how many server processes a session runs.
	shardCount = 2

	// The server opens a few dozen files per shard (saves, mods, sockets)
	// plus our pipes and the run log.
	fdsPerShard = 64
	fdOverhead  = 64

	// Shard processes are heavily threaded and threads count against
	// RLIMIT_NPROC on Linux.
	threadsPerShard = 64
	procOverhead    = 32

	// W_OK for access(2)
	accessWrite = 0x2
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes the checks that matter before starting save.
func RunAll(cfg *config.Config, save string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	result.add(checkServerBinary(filepath.Join(cfg.BinDir(), cfg.ServerBinary)))
	result.add(checkSave(cfg.SavePath(save)))
	result.add(checkLogDir(cfg.LogDir))
	result.add(checkFileDescriptors(shardCount))
	result.add(checkProcessLimit(shardCount))

	// Only needed for updates
	steam := checkSteamCMD(cfg.SteamCMDPath)
	steam.Passed = true
	result.add(steam)

	return result
}

// RunUpdate executes the checks that matter before an update.
func RunUpdate(cfg *config.Config) *Result {
	result := &Result{Passed: true}
	result.add(checkSteamCMD(cfg.SteamCMDPath))
	return result
}

// checkServerBinary verifies the dedicated server executable.
func checkServerBinary(path string) Check {
	c := Check{Name: "server_binary"}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.Message = fmt.Sprintf("not found at %s", path)
	case err != nil:
		c.Message = fmt.Sprintf("cannot stat %s: %v", path, err)
	case info.IsDir():
		c.Message = fmt.Sprintf("%s is a directory", path)
	case info.Mode().Perm()&0o111 == 0:
		c.Message = fmt.Sprintf("%s is not executable", path)
	default:
		c.Passed = true
		c.Message = fmt.Sprintf("found at %s", path)
	}
	return c
}

// checkSave verifies the cluster directory layout. Missing optional files
// are a warning.
func checkSave(path string) Check {
	c := Check{Name: "save"}

	report, err := savegame.CheckStructure(path)
	if err != nil {
		c.Message = err.Error()
		return c
	}
	if !report.OK() {
		c.Message = fmt.Sprintf("missing %s in %s", strings.Join(report.Missing, ", "), path)
		return c
	}

	c.Passed = true
	if len(report.MissingOptional) > 0 {
		c.Warning = true
		c.Message = fmt.Sprintf("%s (missing optional %s)", path, strings.Join(report.MissingOptional, ", "))
		return c
	}
	c.Message = path
	return c
}

// checkLogDir verifies the log directory can be written, or created when it
// does not exist yet.
func checkLogDir(dir string) Check {
	c := Check{Name: "log_dir"}

	target := dir
	for {
		info, err := os.Stat(target)
		if err == nil {
			if !info.IsDir() {
				c.Message = fmt.Sprintf("%s is not a directory", target)
				return c
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			c.Message = fmt.Sprintf("cannot stat %s: %v", target, err)
			return c
		}
		parent := filepath.Dir(target)
		if parent == target {
			c.Message = fmt.Sprintf("no existing parent for %s", dir)
			return c
		}
		target = parent
	}

	if err := syscall.Access(target, accessWrite); err != nil {
		c.Message = fmt.Sprintf("%s is not writable: %v", target, err)
		return c
	}

	c.Passed = true
	if target != dir {
		c.Message = fmt.Sprintf("%s (will be created)", dir)
	} else {
		c.Message = dir
	}
	return c
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(shards int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	required := shards*fdsPerShard + fdOverhead
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d shards)", actual, required, shards),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(shards int) Check {
	required := shards*threadsPerShard + procOverhead

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses returns the soft "Max processes" limit from the
// contents of /proc/self/limits, or 0 if it cannot be found.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// checkSteamCMD verifies steamcmd can be found.
func checkSteamCMD(path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "steamcmd",
			Warning: true,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	return Check{
		Name:    "steamcmd",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", resolved),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "server_binary":
		return "install the server with 'dstctl u <save>' or set game_dir/bin_subdir in config.yaml"
	case "save":
		return "migrate the cluster with 'dstctl m <save>' or check save_dir in config.yaml"
	case "log_dir":
		return "create the directory or point log_dir at a writable location"
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "steamcmd":
		return "install steamcmd (apt install steamcmd) or set steamcmd_path in config.yaml"
	default:
		return "see documentation"
	}
}
