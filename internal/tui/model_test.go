package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel(commands chan string, status Status, feed *Feed) Model {
	return New(Config{
		Save:         "Cluster_1",
		LogPath:      "/logs/Cluster_1_20240101_000000.log",
		Commands:     commands,
		StatusSource: StatusFunc(func() Status { return status }),
		Feed:         feed,
	})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func TestModel_EnterSendsCommand(t *testing.T) {
	commands := make(chan string, 1)
	m := newTestModel(commands, Status{}, nil)
	m.input.SetValue("status")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Enter should return a send command")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}

	msg := cmd()
	if got := <-commands; got != "status" {
		t.Errorf("command = %q, want status", got)
	}

	m, _ = update(t, m, msg)
	if m.lastSent != "status" {
		t.Errorf("lastSent = %q, want status", m.lastSent)
	}
	if !strings.Contains(m.View(), `sent "status"`) {
		t.Error("footer should show the last command")
	}
}

func TestModel_EmptyEnterStillSends(t *testing.T) {
	commands := make(chan string, 1)
	m := newTestModel(commands, Status{}, nil)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	cmd()
	if got := <-commands; got != "" {
		t.Errorf("command = %q, want empty line", got)
	}
}

func TestModel_CtrlCSendsExit(t *testing.T) {
	commands := make(chan string, 1)
	m := newTestModel(commands, Status{}, nil)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("Ctrl+C should return a send command")
	}
	cmd()
	if got := <-commands; got != terminateCommand {
		t.Errorf("command = %q, want %q", got, terminateCommand)
	}
}

func TestModel_NoCommandChannel(t *testing.T) {
	m := newTestModel(nil, Status{}, nil)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("without a channel Enter should be a no-op")
	}
}

func TestModel_TickRefreshes(t *testing.T) {
	feed := NewFeed(10)
	feed.ObserveLine("Master", "Sim paused")
	feed.ObserveLine("Caves", "[Error] something broke")

	status := Status{
		State:   "ready",
		ReadyIn: 42 * time.Second,
		Shards: []ShardStatus{
			{Name: "Caves", PID: 101, Up: true, Lines: 1, Problems: 1, Rate: 2.5},
			{Name: "Master", PID: 102, Up: true, Lines: 1},
		},
	}
	m := newTestModel(nil, status, feed)

	m, cmd := update(t, m, TickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
	if m.State() != "ready" {
		t.Errorf("State() = %q, want ready", m.State())
	}
	if len(m.lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(m.lines))
	}
	if m.ProblemLines() != 1 {
		t.Errorf("ProblemLines() = %d, want 1", m.ProblemLines())
	}

	view := m.View()
	for _, want := range []string{"Cluster_1", "READY", "pid 101", "pid 102", "2.5/s", "Sim paused", "something broke", "00:00:42"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_StateDefaultsToStarting(t *testing.T) {
	m := newTestModel(nil, Status{}, nil)
	if m.State() != "starting" {
		t.Errorf("State() = %q, want starting", m.State())
	}
	if !strings.Contains(m.View(), "waiting for processes") {
		t.Error("view should show the waiting placeholder")
	}
}

func TestModel_ExitedShard(t *testing.T) {
	m := newTestModel(nil, Status{
		State:  "ready",
		Shards: []ShardStatus{{Name: "Caves", PID: 7, Exited: true, ExitCode: 137}},
	}, nil)
	m, _ = update(t, m, TickMsg(time.Now()))

	if !strings.Contains(m.View(), "137") {
		t.Error("view should show the exit code")
	}
}

func TestModel_WindowSize(t *testing.T) {
	m := newTestModel(nil, Status{}, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
	if m.feedRows() != 40-chromeRows {
		t.Errorf("feedRows() = %d, want %d", m.feedRows(), 40-chromeRows)
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 5})
	if m.feedRows() != 3 {
		t.Errorf("feedRows() = %d, want minimum 3", m.feedRows())
	}
}

func TestModel_FeedTrimmedToHeight(t *testing.T) {
	feed := NewFeed(100)
	for i := 0; i < 50; i++ {
		feed.ObserveLine("Master", fmt.Sprintf("line-%02d", i))
	}
	m := newTestModel(nil, Status{}, feed)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: chromeRows + 5})
	m, _ = update(t, m, TickMsg(time.Now()))

	view := m.View()
	if strings.Contains(view, "line-44") {
		t.Error("older lines should scroll off")
	}
	if !strings.Contains(view, "line-45") || !strings.Contains(view, "line-49") {
		t.Error("newest lines should be visible")
	}
}

func TestModel_Quit(t *testing.T) {
	m := newTestModel(nil, Status{}, nil)
	m, cmd := update(t, m, QuitMsg{})
	if cmd == nil {
		t.Error("QuitMsg should return tea.Quit")
	}
	if m.View() != "" {
		t.Error("View should be empty after quit")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{61 * time.Second, "00:01:01"},
		{25*time.Hour + 5*time.Minute, "25:05:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		s     string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much too long", 5, "much…"},
		{"crlf\r", 10, "crlf"},
		{"x", 1, ""},
	}
	for _, tt := range tests {
		if got := clip(tt.s, tt.width); got != tt.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
		}
	}
}

func TestStateStyle(t *testing.T) {
	for _, state := range []string{"ready", "starting", "stopping", "stopped", "created"} {
		if StateStyle(state).Render(state) == "" {
			t.Errorf("StateStyle(%q) rendered empty", state)
		}
	}
	if !strings.Contains(Banner("Game End."), "Game End.") {
		t.Error("Banner should contain its text")
	}
}
