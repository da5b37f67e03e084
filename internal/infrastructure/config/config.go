package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is config.yaml. Load layers it over the defaults, then applies
// GRAYLOGIC_* environment overrides.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig locates the SQLite workspace store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig is the broker link used by mqtt blocks and remote broadcasts.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig is the HTTP listener serving workspaces and /ws.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds http.Server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout is also used as the header read timeout.
func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

// CORSConfig lists origins allowed to call the API and open /ws. An empty
// AllowedOrigins admits every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig tunes UI sessions. Intervals are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// RoutePath is where /ws is mounted under /api/v1.
func (w WebSocketConfig) RoutePath() string {
	if w.Path == "" {
		return "/ws"
	}
	return w.Path
}

// InfluxDBConfig is the bucket execution records and telemetry go to.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WorkspaceConfig tunes the block engine. Durations are in milliseconds.
type WorkspaceConfig struct {
	// ReloadGraceMS is how long a reload waits for the old tab's roots to
	// finish before launching the replacement.
	ReloadGraceMS int `yaml:"reload_grace_ms"`

	// ProcedureSettleMS bounds the wait for procedure definitions to
	// register before ordinary roots start.
	ProcedureSettleMS int `yaml:"procedure_settle_ms"`

	// PollIntervalMS is the tick of each tab's event polling loop.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// RunOnceOpcodes are root opcodes executed synchronously before the
	// other roots are launched.
	RunOnceOpcodes []string `yaml:"run_once_opcodes"`

	// LoadConcurrency is how many stored documents load in parallel at
	// startup.
	LoadConcurrency int `yaml:"load_concurrency"`

	// FilesRoot is the directory the filesystem blocks may watch.
	FilesRoot string `yaml:"files_root"`
}

func (w WorkspaceConfig) ReloadGrace() time.Duration     { return millis(w.ReloadGraceMS) }
func (w WorkspaceConfig) ProcedureSettle() time.Duration { return millis(w.ProcedureSettleMS) }
func (w WorkspaceConfig) PollInterval() time.Duration    { return millis(w.PollIntervalMS) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in defaults, for tools run without a config
// file. Each call returns a fresh copy.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{ID: "site-001", Name: "Gray Logic", Timezone: "UTC"},
		Database: DatabaseConfig{
			Path:        "./data/graylogic.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "graylogic-blocks"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Workspace: WorkspaceConfig{
			ReloadGraceMS:     3000,
			ProcedureSettleMS: 500,
			PollIntervalMS:    1000,
			RunOnceOpcodes:    []string{"data_setvariableto", "data_changevariableby"},
			LoadConcurrency:   4,
			FilesRoot:         "./data/files",
		},
	}
}

// envOverrides maps GRAYLOGIC_* variables onto fields. Secrets belong here
// rather than in config.yaml.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string) error
}{
	{"GRAYLOGIC_DATABASE_PATH", func(c *Config, v string) error { c.Database.Path = v; return nil }},
	{"GRAYLOGIC_MQTT_HOST", func(c *Config, v string) error { c.MQTT.Broker.Host = v; return nil }},
	{"GRAYLOGIC_MQTT_PORT", func(c *Config, v string) error { return setInt(&c.MQTT.Broker.Port, v) }},
	{"GRAYLOGIC_MQTT_USERNAME", func(c *Config, v string) error { c.MQTT.Auth.Username = v; return nil }},
	{"GRAYLOGIC_MQTT_PASSWORD", func(c *Config, v string) error { c.MQTT.Auth.Password = v; return nil }},
	{"GRAYLOGIC_API_HOST", func(c *Config, v string) error { c.API.Host = v; return nil }},
	{"GRAYLOGIC_API_PORT", func(c *Config, v string) error { return setInt(&c.API.Port, v) }},
	{"GRAYLOGIC_INFLUXDB_ENABLED", func(c *Config, v string) error { return setBool(&c.InfluxDB.Enabled, v) }},
	{"GRAYLOGIC_INFLUXDB_TOKEN", func(c *Config, v string) error { c.InfluxDB.Token = v; return nil }},
	{"GRAYLOGIC_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"GRAYLOGIC_WORKSPACE_FILES_ROOT", func(c *Config, v string) error { c.Workspace.FilesRoot = v; return nil }},
}

func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%q is not a number", v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%q is not a boolean", v)
	}
	*dst = b
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Site.ID != "", "site.id is required")
	check(c.Database.Path != "", "database.path is required")

	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	check(validPort(c.MQTT.Broker.Port), "mqtt.broker.port must be between 1 and 65535")

	check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	if c.API.TLS.Enabled {
		check(c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "", "api.tls needs cert_file and key_file")
	}

	check(c.WebSocket.PingInterval > 0, "websocket.ping_interval must be positive")
	check(c.WebSocket.PongTimeout > 0, "websocket.pong_timeout must be positive")

	if c.InfluxDB.Enabled {
		check(c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
		check(c.InfluxDB.Org != "" && c.InfluxDB.Bucket != "", "influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	w := c.Workspace
	check(w.PollIntervalMS > 0, "workspace.poll_interval_ms must be positive")
	check(w.ReloadGraceMS >= 0, "workspace.reload_grace_ms must not be negative")
	check(w.ProcedureSettleMS >= 0, "workspace.procedure_settle_ms must not be negative")
	check(w.LoadConcurrency >= 1, "workspace.load_concurrency must be at least 1")
	for _, op := range w.RunOnceOpcodes {
		check(strings.Contains(op, "_"), "workspace.run_once_opcodes: %q is not an extension_opcode name", op)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}
