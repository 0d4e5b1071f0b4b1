// Package mods derives the server-wide mod download list from a cluster's
// mod overrides.
package mods

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

const workshopPrefix = `["workshop-`

// ErrNoOverrides is returned when the overrides file does not exist. Callers
// treat it as a warning: there is nothing to generate.
var ErrNoOverrides = errors.New("modoverrides.lua not found")

// ParseOverrides extracts workshop IDs from a modoverrides.lua stream, in
// order of first appearance.
//
// Only entries that start a line are considered, which is how the game's
// own tooling writes the file:
//
//	["workshop-378160973"]={ configuration_options={ }, enabled=true },
func ParseOverrides(r io.Reader) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, workshopPrefix) {
			continue
		}
		rest := line[len(workshopPrefix):]
		end := strings.IndexByte(rest, '"')
		if end <= 0 {
			continue
		}
		id := rest[:end]
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	return ids, nil
}

// SetupFile renders the dedicated_server_mods_setup.lua body for ids.
func SetupFile(ids []string) []byte {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "ServerModSetup(%q)\n", id)
	}
	return []byte(b.String())
}

// Generate reads the overrides file and atomically rewrites the setup file.
// It returns the IDs written. A missing overrides file returns
// ErrNoOverrides and leaves the setup file untouched.
func Generate(overridesPath, setupPath string) ([]string, error) {
	f, err := os.Open(overridesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoOverrides, overridesPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open overrides: %w", err)
	}
	defer f.Close()

	ids, err := ParseOverrides(f)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(setupPath), 0o755); err != nil {
		return nil, fmt.Errorf("create mods dir: %w", err)
	}
	if err := renameio.WriteFile(setupPath, SetupFile(ids), 0o644); err != nil {
		return nil, fmt.Errorf("write mods setup: %w", err)
	}
	return ids, nil
}
