package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Rows used by everything except the output feed.
const chromeRows = 14

// render builds the full dashboard.
func (m Model) render() string {
	sections := []string{
		m.renderHeader(),
		m.renderShards(),
		m.renderFeed(),
		m.renderInput(),
		m.renderFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	state := m.State()
	header := fmt.Sprintf(" dstctl │ %s │ %s │ Elapsed: %s ",
		m.save,
		StateStyle(state).Render(strings.ToUpper(state)),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Render(header)
}

func (m Model) renderShards() string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render("Shards"))
	b.WriteString("\n")

	if len(m.status.Shards) == 0 {
		b.WriteString(dimStyle.Render("  waiting for processes..."))
		return b.String()
	}

	for i, s := range m.status.Shards {
		fmt.Fprintf(&b, "  %s %s %s  %s %s  %s %s  %s %s\n",
			shardStyle(i).Width(8).Render(s.Name),
			shardIndicator(s),
			labelStyle.Render(pidLabel(s)),
			mutedStyle.Render("lines"),
			valueStyle.Render(formatNumber(int64(s.Lines))),
			mutedStyle.Render("rate"),
			valueStyle.Render(fmt.Sprintf("%.1f/s", s.Rate)),
			mutedStyle.Render("problems"),
			problemCount(s.Problems),
		)
	}
	if m.status.ReadyIn > 0 {
		fmt.Fprintf(&b, "  %s %s", mutedStyle.Render("ready after"), valueStyle.Render(formatDuration(m.status.ReadyIn)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func shardIndicator(s ShardStatus) string {
	switch {
	case s.Up:
		return statusOK.Render("● up  ")
	case s.Exited && s.ExitCode == 0:
		return mutedStyle.Render("○ done")
	case s.Exited:
		return statusError.Render(fmt.Sprintf("✗ %-4d", s.ExitCode))
	default:
		return dimStyle.Render("○ ... ")
	}
}

func pidLabel(s ShardStatus) string {
	if s.PID == 0 {
		return "pid -"
	}
	return fmt.Sprintf("pid %d", s.PID)
}

func problemCount(n float64) string {
	if n == 0 {
		return statusOK.Render("0")
	}
	return statusWarning.Render(formatNumber(int64(n)))
}

// feedRows is how many output lines fit under the fixed sections.
func (m Model) feedRows() int {
	return max(3, m.height-chromeRows)
}

func (m Model) renderFeed() string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render("Output"))

	rows := m.feedRows()
	lines := m.lines
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}

	index := make(map[string]int, len(m.status.Shards))
	for i, s := range m.status.Shards {
		index[s.Name] = i
	}

	tagWidth := 8
	textWidth := max(10, m.width-tagWidth-3)
	for _, l := range lines {
		b.WriteString("\n")
		tag := shardStyle(index[l.Shard]).Width(tagWidth).Render(clip(l.Shard, tagWidth))
		text := clip(l.Text, textWidth)
		if l.Problem {
			text = problemLineStyle.Render(text)
		}
		b.WriteString(" " + tag + " " + text)
	}
	for i := len(lines); i < rows; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderInput() string {
	return inputBoxStyle.Width(max(20, m.width-2)).Render(m.input.View())
}

func (m Model) renderFooter() string {
	parts := []string{"enter: send", "ctrl+c: exit"}
	if m.logPath != "" {
		parts = append(parts, "log: "+m.logPath)
	}
	if m.lastSent != "" {
		parts = append(parts, fmt.Sprintf("sent %q", m.lastSent))
	}
	return footerStyle.Render(strings.Join(parts, " │ "))
}
