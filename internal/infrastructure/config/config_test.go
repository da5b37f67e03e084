package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
workspace:
  reload_grace_ms: 1500
  run_once_opcodes: ["data_setvariableto"]
  files_root: "/srv/blocks"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if got := cfg.Workspace.ReloadGrace(); got != 1500*time.Millisecond {
		t.Errorf("Workspace.ReloadGrace() = %v, want 1.5s", got)
	}
	if len(cfg.Workspace.RunOnceOpcodes) != 1 {
		t.Errorf("Workspace.RunOnceOpcodes = %v, want one entry", cfg.Workspace.RunOnceOpcodes)
	}
	if cfg.Workspace.FilesRoot != "/srv/blocks" {
		t.Errorf("Workspace.FilesRoot = %q", cfg.Workspace.FilesRoot)
	}
	// Unset keys keep their defaults.
	if got := cfg.Workspace.PollInterval(); got != time.Second {
		t.Errorf("Workspace.PollInterval() = %v, want default 1s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "site.id") {
		t.Errorf("Load() error = %v, want one naming site.id", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"zero poll interval", func(c *Config) { c.Workspace.PollIntervalMS = 0 }, true},
		{"negative reload grace", func(c *Config) { c.Workspace.ReloadGraceMS = -1 }, true},
		{"zero reload grace", func(c *Config) { c.Workspace.ReloadGraceMS = 0 }, false},
		{"negative procedure settle", func(c *Config) { c.Workspace.ProcedureSettleMS = -5 }, true},
		{"zero load concurrency", func(c *Config) { c.Workspace.LoadConcurrency = 0 }, true},
		{"run-once opcode without extension", func(c *Config) { c.Workspace.RunOnceOpcodes = []string{"setvariable"} }, true},
		{"no run-once opcodes", func(c *Config) { c.Workspace.RunOnceOpcodes = nil }, false},
		{"invalid mqtt port", func(c *Config) { c.MQTT.Broker.Port = 0 }, true},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }, true},
		{"zero pong timeout", func(c *Config) { c.WebSocket.PongTimeout = 0 }, true},
		{"api tls without key", func(c *Config) { c.API.TLS = TLSConfig{Enabled: true, CertFile: "hub.crt"} }, true},
		{"api tls complete", func(c *Config) { c.API.TLS = TLSConfig{Enabled: true, CertFile: "hub.crt", KeyFile: "hub.key"} }, false},
		{"influxdb enabled without url", func(c *Config) {
			c.InfluxDB = InfluxDBConfig{Enabled: true, Org: "o", Bucket: "b"}
		}, true},
		{"influxdb enabled without bucket", func(c *Config) {
			c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "o"}
		}, true},
		{"influxdb enabled and complete", func(c *Config) {
			c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "o", Bucket: "b"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsEverything(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.MQTT.QoS = 5
	cfg.Workspace.LoadConcurrency = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, want := range []string{"site.id", "mqtt.qos", "workspace.load_concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestAPITimeoutConfig(t *testing.T) {
	tc := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := tc.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v, want 30s", got)
	}
	if got := tc.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v, want 45s", got)
	}
	if got := tc.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v, want 1m", got)
	}
}

func TestWebSocketConfig_RoutePath(t *testing.T) {
	if got := (WebSocketConfig{}).RoutePath(); got != "/ws" {
		t.Errorf("RoutePath() = %q, want /ws", got)
	}
	if got := (WebSocketConfig{Path: "/events"}).RoutePath(); got != "/events" {
		t.Errorf("RoutePath() = %q, want /events", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_WORKSPACE_FILES_ROOT", "/var/lib/blocks")
	t.Setenv("GRAYLOGIC_MQTT_PORT", "8883")
	t.Setenv("GRAYLOGIC_API_PORT", "9090")
	t.Setenv("GRAYLOGIC_INFLUXDB_ENABLED", "true")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		field, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Workspace.FilesRoot", cfg.Workspace.FilesRoot, "/var/lib/blocks"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.MQTT.Broker.Port != 8883 || cfg.API.Port != 9090 {
		t.Errorf("ports = %d/%d, want 8883/9090", cfg.MQTT.Broker.Port, cfg.API.Port)
	}
	if !cfg.InfluxDB.Enabled {
		t.Error("InfluxDB.Enabled = false, want true")
	}
}

func TestApplyEnvOverrides_EmptyValueKeepsSetting(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_MQTT_HOST", "")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want localhost", cfg.MQTT.Broker.Host)
	}
}

func TestLoad_BadEnvOverride(t *testing.T) {
	tests := []struct {
		name, env, value string
	}{
		{"port not a number", "GRAYLOGIC_API_PORT", "eighty"},
		{"enabled not a boolean", "GRAYLOGIC_INFLUXDB_ENABLED", "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load(writeConfig(t, "site:\n  id: \"s\"\n"))
			if err == nil || !strings.Contains(err.Error(), tt.env) {
				t.Errorf("Load() error = %v, want one naming %s", err, tt.env)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Workspace.ProcedureSettle() != 500*time.Millisecond {
		t.Errorf("defaultConfig ProcedureSettle = %v, want 500ms", cfg.Workspace.ProcedureSettle())
	}
	if cfg.Workspace.LoadConcurrency != 4 {
		t.Errorf("defaultConfig LoadConcurrency = %d, want 4", cfg.Workspace.LoadConcurrency)
	}
}

func TestDefault_ReturnsFreshCopy(t *testing.T) {
	a := Default()
	a.Workspace.RunOnceOpcodes[0] = "changed"
	a.API.Port = 1

	b := Default()
	if b.API.Port != 8080 || b.Workspace.RunOnceOpcodes[0] != "data_setvariableto" {
		t.Error("Default() should not share state between calls")
	}
}
