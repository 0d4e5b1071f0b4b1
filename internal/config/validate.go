package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined ValidationErrors.
func Validate(cfg *Config) error {
	var errs []error

	// Directories every command needs
	for _, d := range []struct {
		field string
		value string
	}{
		{"log_dir", cfg.LogDir},
		{"save_dir", cfg.SaveDir},
		{"game_dir", cfg.GameDir},
	} {
		if strings.TrimSpace(d.value) == "" {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: "is required",
			})
		}
	}

	if cfg.ServerBinary == "" {
		errs = append(errs, ValidationError{
			Field:   "server_binary",
			Message: "is required",
		})
	}

	// An empty marker would make start block forever
	if strings.TrimSpace(cfg.ReadinessMarker) == "" {
		errs = append(errs, ValidationError{
			Field:   "readiness_marker",
			Message: "must not be empty",
		})
	}

	if cfg.ExtraArgs != "" {
		if _, err := shlex.Split(cfg.ExtraArgs); err != nil {
			errs = append(errs, ValidationError{
				Field:   "extra_args",
				Message: err.Error(),
			})
		}
	}

	if _, err := strconv.ParseUint(cfg.AppID, 10, 32); err != nil {
		errs = append(errs, ValidationError{
			Field:   "app_id",
			Message: fmt.Sprintf("must be a numeric Steam app ID (got %q)", cfg.AppID),
		})
	}

	if cfg.UpdateRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   "update_retries",
			Message: "must be >= 0",
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: fmt.Sprintf("must be host:port (got %q)", cfg.MetricsAddr),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateSaveName rejects names that would escape the save directory.
func ValidateSaveName(save string) error {
	switch {
	case save == "":
		return ValidationError{Field: "save", Message: "is required"}
	case save == "." || save == "..":
		return ValidationError{Field: "save", Message: fmt.Sprintf("invalid save name %q", save)}
	case strings.ContainsAny(save, `/\`):
		return ValidationError{Field: "save", Message: fmt.Sprintf("must not contain path separators (got %q)", save)}
	}
	return nil
}
