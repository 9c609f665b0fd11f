package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lyricreel/internal/store"
)

// ErrInvalidConfig is matched by the error ValidateConfig returns.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError is one problem found in a configuration. Warnings are
// reported but never fail validation.
type ValidationError struct {
	Field   string
	Message string
	Warning bool
}

func (e *ValidationError) Error() string {
	if e.Warning {
		return fmt.Sprintf("config: %s: %s (warning)", e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning reports whether the issue is advisory only.
func (e *ValidationError) IsWarning() bool { return e.Warning }

// ValidationErrors collects every issue found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i := range e {
		parts[i] = e[i].Error()
	}
	return strings.Join(parts, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && e.HasErrors()
}

func (e ValidationErrors) filter(warning bool) ValidationErrors {
	var out ValidationErrors
	for _, v := range e {
		if v.Warning == warning {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns the advisory issues.
func (e ValidationErrors) Warnings() ValidationErrors { return e.filter(true) }

// Errors returns the issues that fail validation.
func (e ValidationErrors) Errors() ValidationErrors { return e.filter(false) }

// HasErrors reports whether any issue fails validation.
func (e ValidationErrors) HasErrors() bool {
	for _, v := range e {
		if !v.Warning {
			return true
		}
	}
	return false
}

// RequiredFieldError reports a missing mandatory field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "required field is missing"}
}

// RangeError reports a value outside [min, max].
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("value must be between %v and %v", min, max)}
}

// issues accumulates findings for one section.
type issues struct {
	list ValidationErrors
}

func (s *issues) fail(field, format string, args ...any) {
	s.list = append(s.list, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (s *issues) warn(field, format string, args ...any) {
	s.list = append(s.list, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Warning: true})
}

func (s *issues) add(v *ValidationError) {
	s.list = append(s.list, *v)
}

func (s *issues) nonNegative(field string, v int, what string) {
	if v < 0 {
		s.fail(field, "%s cannot be negative", what)
	}
}

func (s *issues) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	s.fail(field, "invalid value %q (valid: %s)", value, strings.Join(allowed, ", "))
}

// ValidateConfig checks every section. It returns ValidationErrors when at
// least one error-level issue is present.
func ValidateConfig(c *Config) error {
	var all ValidationErrors
	if c.Version < 1 || c.Version > Version {
		all = append(all, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}
	all = append(all, validateStorage(&c.Storage)...)
	all = append(all, validateReplay(&c.Replay)...)
	all = append(all, validateLogging(&c.Logging)...)

	if !all.HasErrors() {
		return nil
	}
	return all
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var v issues

	switch dir := filepath.Dir(s.Path); {
	case s.Path == "":
		v.add(RequiredFieldError("storage.path"))
	case dir != ".":
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			v.fail("storage.path", "parent %s is not a directory", dir)
		}
	}
	v.nonNegative("storage.busy_timeout_ms", s.BusyTimeoutMs, "busy timeout")

	return v.list
}

func validateReplay(r *ReplayConfig) ValidationErrors {
	var v issues

	if _, err := store.ParseReplayMode(r.Mode); err != nil {
		v.fail("replay.mode", "invalid replay mode %q (valid: snapshot, full)", r.Mode)
	}

	v.nonNegative("replay.snapshot_interval", r.SnapshotInterval, "snapshot interval")
	if r.SnapshotInterval > 0 && r.SnapshotInterval < 10 {
		v.warn("replay.snapshot_interval", "an interval of %d events creates many snapshots", r.SnapshotInterval)
	}

	v.nonNegative("replay.keep_snapshots", r.KeepSnapshots, "snapshot retention")
	if r.KeepSnapshots > 1000 {
		v.add(RangeError("replay.keep_snapshots", 0, 1000))
	}

	return v.list
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var v issues

	v.oneOf("logging.level", l.Level, "debug", "info", "warn", "warning", "error")
	v.oneOf("logging.format", l.Format, "text", "json")
	v.oneOf("logging.output", l.Output, "stdout", "stderr", "discard", "file", "both")
	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		v.fail("logging.file_path", "a log file path is needed for output %q", l.Output)
	}

	if l.MaxSizeMB < 1 {
		v.fail("logging.max_size_mb", "rotation size must be at least 1 MB")
	}
	v.nonNegative("logging.max_backups", l.MaxBackups, "backup count")
	v.nonNegative("logging.max_age_days", l.MaxAgeDays, "backup age")

	return v.list
}
