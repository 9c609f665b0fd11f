package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"lyricreel/internal/config"
	"lyricreel/internal/history"
	"lyricreel/internal/logging"
	"lyricreel/internal/store"
)

type cli struct {
	t      *testing.T
	dir    string
	dbPath string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	for _, k := range []string{"LYRICREEL_DATA_DIR", "LYRICREEL_DB_PATH", "LYRICREEL_LOG_LEVEL", "LYRICREEL_LOG_PATH", "LYRICREEL_REPLAY_MODE"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	return &cli{t: t, dir: dir, dbPath: filepath.Join(dir, "history.db")}
}

func (c *cli) run(args ...string) (string, string, int) {
	c.t.Helper()
	full := append([]string{
		"--config", filepath.Join(c.dir, "config.toml"),
		"--db", c.dbPath,
		"--log-level", "error",
	}, args...)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (c *cli) ok(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.run(args...)
	require.Equal(c.t, 0, code, "lyricreelctl %v failed: %s", args, errOut)
	return out
}

func (c *cli) initProject(name string) string {
	c.t.Helper()
	id := strings.TrimSpace(c.ok("init", name))
	require.Len(c.t, id, 36)
	return id
}

// =============================================================================
// Project lifecycle
// =============================================================================

func TestInitAndProjects(t *testing.T) {
	c := newCLI(t)
	out := c.ok("projects")
	assert.Contains(t, out, "No projects yet")

	id := c.initProject("Neon Rain")

	out = c.ok("projects")
	assert.Contains(t, out, id)

	out = c.ok("history", id)
	assert.Contains(t, out, `Created project "Neon Rain"`)
}

func TestAppendAndEvents(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")

	out := c.ok("append", id, "scene_added",
		"--data", `{"scene": {"id": "s1", "title": "Intro"}}`,
		"--at", "2020-03-14T09:00:01",
		"--user", "ana")
	assert.Contains(t, out, "appended event")

	out = c.ok("append", id, "scene_added",
		"--data", `{"scene": {"id": "s1", "title": "Intro"}}`,
		"--at", "2020-03-14T09:00:01",
		"--user", "ana")
	assert.Contains(t, out, "duplicate of event")

	c.ok("append", id, "prompt-edited",
		"--data", `{"scene_id": "s1", "prompt": "neon city"}`,
		"--at", "2020-03-14T09:00:02")

	out = c.ok("events", id, "--type", "scene_added")
	assert.Contains(t, out, "scene_added")
	assert.NotContains(t, out, "prompt_edited")
	assert.Contains(t, out, "ana")

	out = c.ok("events", id, "--json", "--since", "2020-03-14T09:00:00", "--until", "2020-03-14T09:00:01")
	var events []history.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, history.SceneAdded, events[0].Type)

	out = c.ok("events", id, "--json", "--limit", "1")
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, history.SceneAdded, events[0].Type, "earliest event comes first")
}

func TestAppendRejectsBadInput(t *testing.T) {
	c := newCLI(t)

	_, errOut, code := c.run("append", "p1", "scene_exploded")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown event type")

	_, errOut, code = c.run("append", "p1", "scene_added", "--data", "not json")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--data must be a JSON object")

	_, errOut, code = c.run("append", "p1", "scene_added", "--data", `{"scene": {"title": "no id"}}`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid")
}

func TestStateAndUntil(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")

	c.ok("append", id, "scene_added", "--data", `{"scene": {"id": "s1"}}`, "--at", "2020-03-14T09:00:01")
	c.ok("append", id, "scene_added", "--data", `{"scene": {"id": "s2"}}`, "--at", "2020-03-14T09:00:02")
	c.ok("append", id, "scene_deleted", "--data", `{"scene_id": "s1"}`, "--at", "2020-03-14T09:00:03")

	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.ok("state", id, "--full")), &state))
	scenes := state["scenes"].([]any)
	require.Len(t, scenes, 1)
	assert.Equal(t, "s2", scenes[0].(map[string]any)["id"])

	require.NoError(t, json.Unmarshal([]byte(c.ok("state", id, "--until", "2020-03-14T09:00:02")), &state))
	assert.Len(t, state["scenes"].([]any), 2)
}

// =============================================================================
// Snapshots and restore points
// =============================================================================

func TestSnapshots(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")
	c.ok("append", id, "settings_updated", "--data", `{"fps": 24}`)

	out := c.ok("snapshots", id)
	assert.Contains(t, out, "No snapshots")

	for i := 0; i < 3; i++ {
		out = c.ok("snapshot", id)
		assert.Contains(t, out, "snapshot")
	}

	out = c.ok("snapshots", id, "--prune", "1")
	assert.Contains(t, out, "pruned 2 snapshot(s)")

	s, err := store.Open(c.dbPath)
	require.NoError(t, err)
	defer s.Close()
	snaps, err := s.ListSnapshots(id)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	full, err := s.RebuildStateWith(id, nil, store.ReplayFull)
	require.NoError(t, err)
	fast, err := s.RebuildStateWith(id, nil, store.ReplaySnapshot)
	require.NoError(t, err)
	assert.Equal(t, full, fast)
}

func TestRestorePoints(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")

	out := c.ok("restore-point", "create", id, "first cut", "--description", "rough edit")
	assert.Contains(t, out, `restore point "first cut"`)

	out = c.ok("restore-point", "list", id)
	assert.Contains(t, out, "first cut")
	assert.Contains(t, out, "rough edit")

	_, _, code := c.run("restore-point", "create", id, " ")
	assert.Equal(t, 1, code)
}

// =============================================================================
// Verify and export
// =============================================================================

func TestVerify(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")

	out := c.ok("verify", id)
	assert.Contains(t, out, "checked 1 event(s)")
	assert.Contains(t, out, "all events verified")
}

func TestExport(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")
	c.ok("append", id, "scene_added", "--data", `{"scene": {"id": "s1", "title": "Intro"}}`)
	c.ok("restore-point", "create", id, "v1")

	var doc projectExport
	require.NoError(t, json.Unmarshal([]byte(c.ok("export", id)), &doc))
	assert.Equal(t, id, doc.ProjectID)
	assert.Len(t, doc.Events, 3)
	require.Len(t, doc.RestorePoints, 1)
	assert.Equal(t, "v1", doc.RestorePoints[0].Name)
	assert.Len(t, doc.State["scenes"], 1)

	path := filepath.Join(c.dir, "reel.yaml")
	_, errOut, code := c.run("export", id, "--format", "yaml", "--out", path)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "exported 3 event(s)")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, id, parsed["project_id"])
	assert.Len(t, parsed["events"], 3)

	_, _, code = c.run("export", id, "--format", "xml")
	assert.Equal(t, 1, code)
}

func TestLargeIntegersSurviveStorage(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")
	c.ok("append", id, "scene_added", "--data", `{"scene": {"id": "s1", "seed": 9007199254740993}}`)

	assert.Contains(t, c.ok("verify", id), "all events verified")
	assert.Contains(t, c.ok("export", id), "9007199254740993")

	path := filepath.Join(c.dir, "reel.yaml")
	c.ok("export", id, "--format", "yaml", "--out", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "seed: 9007199254740993")
	assert.NotContains(t, string(data), `"9007199254740993"`)
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héé...", truncate("hééllo", 3))
	assert.Equal(t, "日本...", truncate("日本語のテキスト", 2))
}

// =============================================================================
// Global flags
// =============================================================================

func TestMetricsDump(t *testing.T) {
	c := newCLI(t)
	_, errOut, code := c.run("--metrics", "prom", "init", "Reel")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "lyricreel_events_appended_total 1")

	_, errOut, code = c.run("--metrics", "xml", "projects")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown metrics format")
}

func TestTail(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{
			"--config", filepath.Join(c.dir, "config.toml"),
			"--db", c.dbPath,
			"--log-level", "error",
			"tail", id, "--quiet", "50ms",
		}, &stdout, &stderr)
	}()

	// Give the watcher time to attach before writing.
	time.Sleep(300 * time.Millisecond)

	s, err := store.Open(c.dbPath)
	require.NoError(t, err)
	e, err := history.NewEvent(id, history.SceneAdded, "", map[string]any{"scene": map[string]any{"id": "s9", "title": "Outro"}}, nil)
	require.NoError(t, err)
	_, _, err = s.Append(e)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	time.Sleep(time.Second)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not exit after cancel")
	}
	assert.Contains(t, stdout.String(), `Added scene "Outro"`)
	assert.NotContains(t, stdout.String(), "Created project")
}

func TestConfigCommands(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(c.dir, "config.toml")

	assert.Equal(t, path, strings.TrimSpace(c.ok("config", "path")))
	assert.Contains(t, c.ok("config", "init"), "wrote default config to "+path)
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Contains(t, c.ok("config", "init"), "config already exists")
}

func TestConfigReloadAppliesLogLevel(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(c.dir, "config.toml")

	cfg := config.DefaultConfig()
	cfg.Storage.Path = c.dbPath
	require.NoError(t, config.SaveConfig(cfg, path))

	log, err := logging.New(&logging.Config{Level: logging.LevelInfo, Writer: io.Discard})
	require.NoError(t, err)
	a := &app{configPath: path, log: log}

	loader, err := a.watchConfig()
	require.NoError(t, err)
	defer loader.Close()

	cfg.Logging.Level = "debug"
	require.NoError(t, config.SaveConfig(cfg, path))
	require.Eventually(t, func() bool {
		return log.Level() == logging.LevelDebug
	}, 3*time.Second, 20*time.Millisecond)

	pinned := &app{configPath: path, log: log, logLevel: "debug"}
	cfg.Logging.Level = "error"
	pinned.applyLogLevel(cfg)
	assert.Equal(t, logging.LevelDebug, log.Level())
}

func TestDoctor(t *testing.T) {
	c := newCLI(t)
	id := c.initProject("Reel")
	c.ok("snapshot", id)

	out := c.ok("doctor")
	assert.Contains(t, out, "overall: healthy")
	assert.Contains(t, out, "integrity")
}
