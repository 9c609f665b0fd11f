package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lyricreel/internal/logging"
	"lyricreel/internal/store"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LYRICREEL_DATA_DIR",
		"LYRICREEL_DB_PATH",
		"LYRICREEL_LOG_LEVEL",
		"LYRICREEL_LOG_PATH",
		"LYRICREEL_REPLAY_MODE",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("LYRICREEL_DATA_DIR", dir)

	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "history.db") {
		t.Errorf("unexpected database path: %s", cfg.DatabasePath())
	}
	if cfg.Replay.Mode != "snapshot" {
		t.Errorf("expected snapshot replay, got %s", cfg.Replay.Mode)
	}
	if cfg.Replay.SnapshotInterval != 100 || cfg.Replay.KeepSnapshots != 5 {
		t.Errorf("unexpected replay defaults: %+v", cfg.Replay)
	}
	if !cfg.Validation.Enabled {
		t.Error("validation should be enabled by default")
	}
	if cfg.BusyTimeout() != 5*time.Second {
		t.Errorf("expected 5s busy timeout, got %v", cfg.BusyTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "lyricreel") {
		t.Errorf("config path should contain lyricreel: %s", path)
	}
}

func TestDataDir(t *testing.T) {
	clearEnv(t)
	if !strings.Contains(DataDir(), "lyricreel") {
		t.Errorf("data dir should contain lyricreel: %s", DataDir())
	}

	t.Setenv("LYRICREEL_DATA_DIR", "/srv/reels")
	if DataDir() != "/srv/reels" {
		t.Errorf("expected env override, got %s", DataDir())
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replay.Mode != "snapshot" {
		t.Errorf("expected defaults, got mode %s", cfg.Replay.Mode)
	}
}

func TestSaveAndLoadFormats(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	for _, ext := range []string{"toml", "json", "yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "config."+ext)

			cfg := DefaultConfig()
			cfg.Storage.Path = filepath.Join(dir, "reels.db")
			cfg.Replay.Mode = "full"
			cfg.Replay.SnapshotInterval = 250
			cfg.Logging.Level = "debug"
			cfg.Validation.Enabled = false

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("expected 0600, got %v", info.Mode().Perm())
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Storage.Path != cfg.Storage.Path {
				t.Errorf("storage path: got %s", loaded.Storage.Path)
			}
			if loaded.Replay.Mode != "full" || loaded.Replay.SnapshotInterval != 250 {
				t.Errorf("replay not round-tripped: %+v", loaded.Replay)
			}
			if loaded.Logging.Level != "debug" {
				t.Errorf("logging level: got %s", loaded.Logging.Level)
			}
			if loaded.Validation.Enabled {
				t.Error("validation should be disabled")
			}
		})
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[replay]\nmode = \"full\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replay.Mode != "full" {
		t.Errorf("expected full, got %s", cfg.Replay.Mode)
	}
	if cfg.Replay.KeepSnapshots != 5 {
		t.Errorf("expected default keep, got %d", cfg.Replay.KeepSnapshots)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default level, got %s", cfg.Logging.Level)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "lyricreel.conf")
	if err := os.WriteFile(path, []byte(`{"replay": {"mode": "full"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replay.Mode != "full" {
		t.Errorf("expected full, got %s", cfg.Replay.Mode)
	}
}

func TestLoadMalformed(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[replay\nmode="), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LYRICREEL_DB_PATH", "/tmp/override.db")
	t.Setenv("LYRICREEL_LOG_LEVEL", "error")
	t.Setenv("LYRICREEL_LOG_PATH", "/tmp/override.log")
	t.Setenv("LYRICREEL_REPLAY_MODE", "full")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("db path: %s", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("log level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.FilePath != "/tmp/override.log" {
		t.Errorf("log path: %s", cfg.Logging.FilePath)
	}
	if cfg.Replay.Mode != "full" {
		t.Errorf("replay mode: %s", cfg.Replay.Mode)
	}
}

func TestDataDirOverrideMovesDatabase(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	t.Setenv("LYRICREEL_DATA_DIR", "/var/lib/lyricreel")
	cfg.ApplyEnvOverrides()
	if cfg.Storage.Path != filepath.Join("/var/lib/lyricreel", "history.db") {
		t.Errorf("db path: %s", cfg.Storage.Path)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"empty path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"negative busy timeout", func(c *Config) { c.Storage.BusyTimeoutMs = -1 }, "storage.busy_timeout_ms"},
		{"bad replay mode", func(c *Config) { c.Replay.Mode = "partial" }, "replay.mode"},
		{"negative interval", func(c *Config) { c.Replay.SnapshotInterval = -5 }, "replay.snapshot_interval"},
		{"negative keep", func(c *Config) { c.Replay.KeepSnapshots = -1 }, "replay.keep_snapshots"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"file without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"tiny max size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage.Path = filepath.Join(t.TempDir(), "history.db")
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateWarningOnly(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Replay.SnapshotInterval = 3

	if err := cfg.Validate(); err != nil {
		t.Errorf("warning should not fail validation: %v", err)
	}

	errs := validateReplay(&cfg.Replay)
	if len(errs.Warnings()) != 1 {
		t.Errorf("expected one warning, got %v", errs)
	}
	if errs.HasErrors() {
		t.Errorf("expected no errors, got %v", errs.Errors())
	}
}

func TestLoadOrCreate(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected config to be created")
	}
	if cfg == nil {
		t.Fatal("nil config")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if created {
		t.Error("second call should load the existing file")
	}
}

func TestLoaderWatch(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "history.db")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path, nil)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg.Logging.Level = "debug"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Logging.Level != "debug" {
			t.Errorf("expected reloaded level debug, got %s", c.Logging.Level)
		}
		if loader.Config().Logging.Level != "debug" {
			t.Error("loader did not swap in the new config")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "history.db")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path, nil)
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatal(err)
	}

	cfg.Replay.Mode = "sideways"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-loader.Errors():
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	if loader.Config().Replay.Mode != "snapshot" {
		t.Errorf("invalid config should not be applied, got %s", loader.Config().Replay.Mode)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Replay.Mode = "full"
	if cfg.Replay.Mode != "snapshot" {
		t.Error("clone shares state with original")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "data", "history.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "lyricreel.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, sub := range []string{"data", "logs"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("%s directory not created", sub)
		}
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"

	lc, err := cfg.LoggerConfig()
	if err != nil {
		t.Fatalf("LoggerConfig failed: %v", err)
	}
	if lc.Level != logging.LevelWarn {
		t.Errorf("expected warn level, got %v", lc.Level)
	}
	if lc.Format != logging.FormatJSON {
		t.Errorf("expected json format")
	}
	if lc.MaxSize != 50 {
		t.Errorf("expected max size 50, got %d", lc.MaxSize)
	}
}

func TestStoreOptions(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "history.db")
	cfg.Replay.Mode = "full"

	opts, err := cfg.StoreOptions(nil, nil)
	if err != nil {
		t.Fatalf("StoreOptions failed: %v", err)
	}

	s, err := store.Open(cfg.DatabasePath(), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if s.ReplayMode() != store.ReplayFull {
		t.Errorf("expected full replay, got %s", s.ReplayMode())
	}

	policy := cfg.CheckpointPolicy()
	if policy.Interval != 100 || policy.Keep != 5 {
		t.Errorf("unexpected policy: %+v", policy)
	}
}

func TestFindConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("LYRICREEL_DATA_DIR", dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Chdir(t.TempDir())

	if got := FindConfigFile(); got != "" {
		t.Errorf("expected no config file, got %s", got)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != path {
		t.Errorf("expected %s, got %s", path, got)
	}
	if got := ResolvePath(""); got != path {
		t.Errorf("ResolvePath should prefer the found file, got %s", got)
	}
	if got := ResolvePath("explicit.toml"); got != "explicit.toml" {
		t.Errorf("ResolvePath should keep an explicit path, got %s", got)
	}

	local := filepath.Join(".", "config.toml")
	if err := os.WriteFile(local, []byte("version = 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != local {
		t.Errorf("working directory should win, got %s", got)
	}
}

func TestFormatFor(t *testing.T) {
	cases := map[string]Format{
		"a.toml":     FormatTOML,
		"a.JSON":     FormatJSON,
		"dir/a.yml":  FormatYAML,
		"dir/a.yaml": FormatYAML,
	}
	for path, want := range cases {
		got, ok := FormatFor(path)
		if !ok || got != want {
			t.Errorf("FormatFor(%q) = %q, %v; want %q", path, got, ok, want)
		}
	}
	if _, ok := FormatFor("config.ini"); ok {
		t.Error("ini should not be recognized")
	}
}
