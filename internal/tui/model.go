package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// commandSentMsg reports that a typed command reached the channel.
type commandSentMsg struct{ command string }

// =============================================================================
// Status
// =============================================================================

// ShardStatus is what the dashboard shows for one shard.
type ShardStatus struct {
	Name     string
	PID      int
	Up       bool
	Exited   bool
	ExitCode int
	Lines    float64
	Problems float64
	Rate     float64 // lines/s over the last 10s
}

// Status is a snapshot of the running session.
type Status struct {
	State   string
	ReadyIn time.Duration
	Shards  []ShardStatus
}

// StatusSource provides session snapshots.
type StatusSource interface {
	Status() Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() Status

// Status implements StatusSource.
func (f StatusFunc) Status() Status { return f() }

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	save    string
	logPath string

	// Current state
	status     Status
	lines      []Line
	seq        uint64
	startTime  time.Time
	lastUpdate time.Time
	lastSent   string

	// Display options
	width  int
	height int

	input    textinput.Model
	commands chan<- string

	statusSource StatusSource
	feed         *Feed

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Save    string
	LogPath string

	// Commands receives every line typed into the command box. Ctrl+C
	// sends the terminate command.
	Commands chan<- string

	StatusSource StatusSource
	Feed         *Feed
}

// terminateCommand is what Ctrl+C types for the operator.
const terminateCommand = "exit"

// New creates a new TUI model.
func New(cfg Config) Model {
	ti := textinput.New()
	ti.Placeholder = "type 'e' or 'exit' to stop the server"
	ti.Prompt = "> "
	ti.CharLimit = 128
	ti.Width = 60
	ti.Focus()

	return Model{
		save:         cfg.Save,
		logPath:      cfg.LogPath,
		commands:     cfg.Commands,
		statusSource: cfg.StatusSource,
		feed:         cfg.Feed,
		input:        ti,
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		width:        80,
		height:       24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, m.send(terminateCommand)
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			return m, m.send(line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-8)
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case commandSentMsg:
		m.lastSent = msg.command
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.render()
}

// refresh pulls the latest status and feed lines.
func (m *Model) refresh() {
	if m.statusSource != nil {
		m.status = m.statusSource.Status()
	}
	if m.feed != nil {
		if seq := m.feed.Seq(); seq != m.seq {
			m.seq = seq
			m.lines = m.feed.Last(DefaultFeedSize)
		}
	}
	m.lastUpdate = time.Now()
}

// send delivers a command off the update loop, so a busy control loop never
// stalls rendering.
func (m Model) send(line string) tea.Cmd {
	if m.commands == nil {
		return nil
	}
	ch := m.commands
	return func() tea.Msg {
		ch <- line
		return commandSentMsg{command: line}
	}
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// State returns the last seen session state.
func (m Model) State() string {
	if m.status.State == "" {
		return "starting"
	}
	return m.status.State
}

// ProblemLines counts problem lines currently in view.
func (m Model) ProblemLines() int {
	n := 0
	for _, l := range m.lines {
		if l.Problem {
			n++
		}
	}
	return n
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// clip shortens s to width runes, marking the cut with an ellipsis.
func clip(s string, width int) string {
	if width <= 1 {
		return ""
	}
	r := []rune(strings.TrimRight(s, "\r"))
	if len(r) <= width {
		return string(r)
	}
	return string(r[:width-1]) + "…"
}
