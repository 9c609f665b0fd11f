// Package config handles configuration loading, validation, and management
// for lyricreel.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lyricreel/internal/checkpoint"
	"lyricreel/internal/logging"
	"lyricreel/internal/metrics"
	"lyricreel/internal/schemavalidation"
	"lyricreel/internal/store"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configures the event database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Replay configures state rebuilding and snapshotting.
	Replay ReplayConfig `toml:"replay" json:"replay" yaml:"replay"`

	// Validation configures payload schema checks on append.
	Validation ValidationConfig `toml:"validation" json:"validation" yaml:"validation"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is how long a writer waits on a locked database.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// ReplayConfig holds rebuild and snapshot configuration.
type ReplayConfig struct {
	// Mode is "snapshot" (start from the latest usable snapshot) or "full".
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// SnapshotInterval is the number of appended events between automatic
	// snapshots. Zero disables them.
	SnapshotInterval int `toml:"snapshot_interval" json:"snapshot_interval" yaml:"snapshot_interval"`

	// KeepSnapshots is how many snapshots to retain per project. Zero keeps all.
	KeepSnapshots int `toml:"keep_snapshots" json:"keep_snapshots" yaml:"keep_snapshots"`
}

// ValidationConfig holds payload validation configuration.
type ValidationConfig struct {
	// Enabled turns on JSON Schema checks for handled event types.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to gzip rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			Path:          filepath.Join(DataDir(), "history.db"),
			BusyTimeoutMs: 5000,
		},
		Replay: ReplayConfig{
			Mode:             string(store.ReplaySnapshot),
			SnapshotInterval: 100,
			KeepSnapshots:    5,
		},
		Validation: ValidationConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "lyricreel.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base data directory, honoring LYRICREEL_DATA_DIR.
func DataDir() string {
	if envDir := os.Getenv("LYRICREEL_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from path, or from ResolvePath("") when path is
// empty. A missing file yields the defaults.
// TOML, JSON and YAML are selected by extension. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(ResolvePath(path))
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirs := []string{filepath.Dir(c.Storage.Path)}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies LYRICREEL_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("LYRICREEL_DATA_DIR"); v != "" && os.Getenv("LYRICREEL_DB_PATH") == "" {
		c.Storage.Path = filepath.Join(v, "history.db")
	}
	if v := os.Getenv("LYRICREEL_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("LYRICREEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LYRICREEL_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("LYRICREEL_REPLAY_MODE"); v != "" {
		c.Replay.Mode = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:    c.Version,
		Storage:    c.Storage,
		Replay:     c.Replay,
		Validation: c.Validation,
		Logging:    c.Logging,
	}
}

// DatabasePath returns the storage path.
func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Storage.Path
}

// BusyTimeout returns the storage busy timeout as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// ReplayMode parses Replay.Mode.
func (c *Config) ReplayMode() (store.ReplayMode, error) {
	return store.ParseReplayMode(c.Replay.Mode)
}

// LoggerConfig converts the logging section into a logging.Config.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}

	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSize:    int64(c.Logging.MaxSizeMB),
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
		Component:  "lyricreel",
	}, nil
}

// StoreOptions builds the store options described by the configuration.
// log and m may be nil.
func (c *Config) StoreOptions(log *logging.Logger, m *metrics.HistoryMetrics) ([]store.Option, error) {
	mode, err := c.ReplayMode()
	if err != nil {
		return nil, err
	}

	opts := []store.Option{
		store.WithReplayMode(mode),
		store.WithBusyTimeout(c.BusyTimeout()),
	}
	if log != nil {
		opts = append(opts, store.WithLogger(log))
	}
	if m != nil {
		opts = append(opts, store.WithMetrics(m))
	}
	if c.Validation.Enabled {
		v, err := schemavalidation.New()
		if err != nil {
			return nil, fmt.Errorf("load payload schemas: %w", err)
		}
		opts = append(opts, store.WithValidator(v))
	}
	return opts, nil
}

// CheckpointPolicy returns the snapshot cadence and retention.
func (c *Config) CheckpointPolicy() checkpoint.Policy {
	return checkpoint.Policy{
		Interval: c.Replay.SnapshotInterval,
		Keep:     c.Replay.KeepSnapshots,
	}
}
