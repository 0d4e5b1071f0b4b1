package config

import (
	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Only flags the user actually set
// replace values from the config file.
type Flags struct {
	ConfigPath    string
	Verbose       bool
	LogFormat     string
	MetricsAddr   string
	TUI           bool
	PrintCmd      bool
	SkipPreflight bool
}

// Register adds the global flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "Config file (default: ./config.yaml, then next to the binary)")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "Verbose logging; echo every shard line")
	fs.StringVar(&f.LogFormat, "log-format", "text", "Log format: json, text")
	fs.StringVar(&f.MetricsAddr, "metrics", "", "Prometheus metrics address (e.g. 127.0.0.1:17091)")
	fs.BoolVar(&f.TUI, "tui", false, "Show the live dashboard while the server runs")
}

// RegisterStart adds the flags specific to commands that start the server.
func (f *Flags) RegisterStart(fs *pflag.FlagSet) {
	fs.BoolVar(&f.PrintCmd, "print-cmd", false, "Print the shard command lines and exit")
	fs.BoolVar(&f.SkipPreflight, "skip-preflight", false, "Skip preflight checks")
}

// Apply copies the flags that were set on fs into cfg.
func (f *Flags) Apply(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("verbose") {
		cfg.Verbose = f.Verbose
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.LogFormat
	}
	if fs.Changed("metrics") {
		cfg.MetricsAddr = f.MetricsAddr
	}
	if fs.Changed("tui") {
		cfg.TUI = f.TUI
	}
	if fs.Lookup("print-cmd") != nil {
		cfg.PrintCmd = f.PrintCmd
	}
	if fs.Lookup("skip-preflight") != nil {
		cfg.SkipPreflight = f.SkipPreflight
	}
}
