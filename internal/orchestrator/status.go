package orchestrator

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/dstctl/internal/process"
	"github.com/randomizedcoder/dstctl/internal/supervisor"
	"github.com/randomizedcoder/dstctl/internal/timeseries"
	"github.com/randomizedcoder/dstctl/internal/tui"
)

// tracker follows a session through the supervisor callbacks. It exists
// before the session does, so the dashboard can show startup progress.
type tracker struct {
	mu        sync.Mutex
	state     supervisor.State
	pids      map[string]int
	exits     map[string]supervisor.ShardExit
	readyIn   time.Duration
	startedAt time.Time

	rates *timeseries.ShardRates
}

func newTracker(now time.Time) *tracker {
	return &tracker{
		state:     supervisor.StateCreated,
		pids:      make(map[string]int),
		exits:     make(map[string]supervisor.ShardExit),
		startedAt: now,
		rates:     timeseries.NewShardRates(),
	}
}

func (t *tracker) setState(_, newState supervisor.State) {
	t.mu.Lock()
	t.state = newState
	t.mu.Unlock()
}

func (t *tracker) started(shard string, pid int) {
	t.mu.Lock()
	t.pids[shard] = pid
	t.mu.Unlock()
}

func (t *tracker) ready(elapsed time.Duration) {
	t.mu.Lock()
	t.readyIn = elapsed
	t.mu.Unlock()
}

func (t *tracker) exited(exit supervisor.ShardExit) {
	t.mu.Lock()
	t.exits[exit.Shard] = exit
	t.mu.Unlock()
}

// status builds the dashboard snapshot.
func (o *Orchestrator) status(t *tracker) tui.Status {
	snap := o.metrics.Snapshot(process.Shards[:]...)

	t.mu.Lock()
	defer t.mu.Unlock()

	st := tui.Status{
		State:   t.state.String(),
		ReadyIn: t.readyIn,
	}
	for _, shard := range process.Shards {
		s := tui.ShardStatus{
			Name:     shard,
			PID:      t.pids[shard],
			Lines:    snap.Shards[shard].Lines,
			Problems: snap.Shards[shard].ProblemLines,
			Rate:     t.rates.Rates(shard).Avg10s,
		}
		if exit, ok := t.exits[shard]; ok {
			s.Exited = true
			s.ExitCode = exit.ExitCode
		} else {
			s.Up = s.PID != 0
		}
		st.Shards = append(st.Shards, s)
	}
	return st
}

// statusLine answers the "status" command.
func (o *Orchestrator) statusLine(t *tracker) func() string {
	return func() string {
		st := o.status(t)

		t.mu.Lock()
		uptime := o.now().Sub(t.startedAt)
		t.mu.Unlock()

		parts := make([]string, 0, len(st.Shards))
		for _, s := range st.Shards {
			switch {
			case s.Exited:
				parts = append(parts, fmt.Sprintf("%s exited with code %d", s.Name, s.ExitCode))
			case s.Up:
				parts = append(parts, fmt.Sprintf("%s running (pid %d, %.0f lines, %.1f/s)", s.Name, s.PID, s.Lines, s.Rate))
			default:
				parts = append(parts, s.Name+" not started")
			}
		}
		return fmt.Sprintf("%s %s, up %s: %s", o.save, st.State, formatDuration(uptime), strings.Join(parts, "; "))
	}
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary(w io.Writer, sess *supervisor.Session) {
	codes := sess.ExitCodes()
	stats := sess.PumpStats()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "                        %s Exit Summary\n", o.save)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Session:                %s\n", sess.ID())
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(o.now().Sub(sess.StartedAt())))
	fmt.Fprintf(w, "Run Log:                %s\n", sess.LogPath())
	fmt.Fprintln(w)

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Shards:")
	for _, name := range names {
		s := stats[name]
		code, ok := codes[name]
		exit := "running"
		if ok {
			exit = fmt.Sprintf("%d %s", code, exitCodeLabel(code))
		}
		fmt.Fprintf(w, "  %-8s exit %-14s lines %-8d p99 gap %s\n", name, exit, s.Lines, s.GapP99)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}
