package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDiscoverConfigPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()
	projectPath := filepath.Join(cwd, "workgraph.yaml")
	homePath := filepath.Join(home, ".workgraph", "config.yaml")

	// Nothing on disk.
	path, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil || found || path != "" {
		t.Fatalf("got (%q, %v, %v), want nothing found", path, found, err)
	}

	if err := os.MkdirAll(filepath.Dir(homePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(homePath, []byte("workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || path != homePath {
		t.Fatalf("got (%q, %v, %v), want home config", path, found, err)
	}

	if err := os.WriteFile(projectPath, []byte("workers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, found, err = DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || path != projectPath {
		t.Fatalf("got (%q, %v, %v), want project config to win", path, found, err)
	}

	path, found, err = DiscoverConfigPathFrom(homePath, cwd, home)
	if err != nil || !found || path != homePath {
		t.Fatalf("got (%q, %v, %v), want explicit path", path, found, err)
	}

	_, _, err = DiscoverConfigPathFrom(filepath.Join(cwd, "missing.yaml"), cwd, home)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeTestFile(t, "workgraph.yaml", `workers: 4
continue_on_failure: true
event_batch: 8
events_db: /tmp/events.db
log_level: debug
log_format: json
retention:
  max_age: 72h
  max_events: 1000
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{
		Workers:           4,
		ContinueOnFailure: true,
		EventBatch:        8,
		EventsDB:          "/tmp/events.db",
		LogLevel:          "debug",
		LogFormat:         "json",
		Retention:         RetentionConfig{MaxAge: 72 * time.Hour, MaxEvents: 1000},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	bad := writeTestFile(t, "bad.yaml", "workers: [\n")
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerTo(&buf, slog.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("shown", "node", "compile")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["node"] != "compile" {
		t.Errorf("record = %v", rec)
	}
}
