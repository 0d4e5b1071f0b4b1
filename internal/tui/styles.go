// Package tui provides a live terminal dashboard for a running cluster.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Session state and time since start
// - Per-shard process status and output counters
// - A merged tail of both shards' output
// - A command box feeding the same command channel as the console
package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray

	// Shard tag colors, by position
	shardColors = []lipgloss.Color{colorSecondary, colorInfo}
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	// Header style
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	// Section header style
	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder)

	// Footer style
	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	problemLineStyle = lipgloss.NewStyle().
				Foreground(colorWarning)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(10)
)

// shardStyle returns the tag style for the i-th shard.
func shardStyle(i int) lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(shardColors[i%len(shardColors)]).
		Bold(true)
}

// StateStyle returns the style for a session state name.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return statusOK
	case "starting", "stopping":
		return statusWarning
	case "stopped":
		return statusError
	default:
		return mutedStyle
	}
}

// Banner renders a one-line highlighted message, used by the CLI for the
// start notice when stdout is a terminal.
func Banner(text string) string {
	return headerStyle.MarginBottom(0).Render(text)
}
