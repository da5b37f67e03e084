package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
)

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("entry %q is not JSON: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"empty", config.LoggingConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg, "1.0.0") == nil {
				t.Fatal("New() = nil")
			}
		})
	}
	if Default() == nil {
		t.Fatal("Default() = nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogger_DefaultFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LoggingConfig{Level: "warn"}, "1.2.3")

	log.Info("dropped")
	log.Warn("root failed", "tab_id", "kitchen")

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(entries), entries)
	}
	e := entries[0]
	if e["msg"] != "root failed" || e["service"] != ServiceName || e["version"] != "1.2.3" || e["tab_id"] != "kitchen" {
		t.Errorf("entry = %v", e)
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LoggingConfig{Format: "TEXT"}, "dev")

	log.Info("tab loaded", "tab_id", "kitchen")

	if out := buf.String(); !strings.Contains(out, `msg="tab loaded"`) || !strings.Contains(out, "tab_id=kitchen") {
		t.Errorf("text output = %q", out)
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LoggingConfig{}, "dev")

	log.Info("connecting", "token", "s3cret", "Password", "hunter2", "password_set", true, "user", "hub")
	log.Info("anonymous", "password", "")

	entries := decodeEntries(t, &buf)
	e := entries[0]
	if e["token"] != redacted || e["Password"] != redacted {
		t.Errorf("secrets not redacted: %v", e)
	}
	if e["user"] != "hub" || e["password_set"] != true {
		t.Errorf("ordinary fields changed: %v", e)
	}
	if strings.Contains(buf.String(), "s3cret") || strings.Contains(buf.String(), "hunter2") {
		t.Errorf("output leaks a secret: %s", buf.String())
	}
	if entries[1]["password"] != "" {
		t.Errorf("empty password = %v, want empty", entries[1]["password"])
	}
}

func TestLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LoggingConfig{}, "dev")

	log.Component("workspace").Info("tab loaded", "tab_id", "kitchen")

	e := decodeEntries(t, &buf)[0]
	if e["component"] != "workspace" || e["tab_id"] != "kitchen" || e["service"] != ServiceName {
		t.Errorf("entry = %v", e)
	}
}
