package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if result := parseLevel(tc.input); result != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, result, tc.expected)
			}
		})
	}
}

func TestNew_Formats(t *testing.T) {
	testCases := []struct {
		format   string
		wantJSON bool
	}{
		{"json", true},
		{"JSON", true},
		{"text", false},
		{"", false},
		{"invalid", false},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			New(Options{Writer: &buf, Format: tc.format}).Info("session_starting", "save", "Cluster_1")

			out := strings.TrimSpace(buf.String())
			if isJSON := strings.HasPrefix(out, "{"); isJSON != tc.wantJSON {
				t.Errorf("format %q produced %q", tc.format, out)
			}
			if !strings.Contains(out, "Cluster_1") {
				t.Errorf("attribute missing from %q", out)
			}
		})
	}
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf, Format: "text", Level: "error", Verbose: true})
	logger.Debug("debug message")

	if !strings.Contains(buf.String(), "debug message") {
		t.Error("verbose logger should log debug messages")
	}
	if !strings.Contains(buf.String(), "source=") {
		t.Error("verbose logger should add source locations")
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	testCases := []struct {
		level    string
		wantSeen []string
		wantHide []string
	}{
		{"debug", []string{"debug msg", "info msg", "warn msg", "error msg"}, nil},
		{"info", []string{"info msg", "warn msg"}, []string{"debug msg"}},
		{"warn", []string{"warn msg", "error msg"}, []string{"info msg"}},
		{"error", []string{"error msg"}, []string{"warn msg"}},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, "text", tc.level)
			logger.Debug("debug msg")
			logger.Info("info msg")
			logger.Warn("warn msg")
			logger.Error("error msg")

			for _, s := range tc.wantSeen {
				if !strings.Contains(buf.String(), s) {
					t.Errorf("level %s should log %q", tc.level, s)
				}
			}
			for _, s := range tc.wantHide {
				if strings.Contains(buf.String(), s) {
					t.Errorf("level %s should not log %q", tc.level, s)
				}
			}
		})
	}
}

func TestNewLogger_NotNil(t *testing.T) {
	if NewLogger("json", "info", false) == nil {
		t.Error("NewLogger returned nil")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Discard logger should not enable debug")
	}
}

func TestSetDefault(t *testing.T) {
	originalDefault := slog.Default()
	defer slog.SetDefault(originalDefault)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))

	slog.Info("from default logger")
	if !strings.Contains(buf.String(), "from default logger") {
		t.Error("SetDefault did not set the default logger")
	}
}
