// Gray Logic Blocks - visual automation runtime for the Gray Logic hub
//
// This is the main entry point of the hub process. It loads stored
// workspace documents, runs them with the built-in block extensions and
// serves the admin API:
//   - Workspaces are stored in SQLite and reloaded live on change
//   - Broadcasts arrive over HTTP or MQTT and wake listening hats
//   - Block errors reach the UI over WebSocket and MQTT
//   - Root execution metrics go to InfluxDB when enabled
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-blocks/migrations"

	"github.com/nerrad567/gray-logic-blocks/internal/api"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace/extensions"
)

// Build metadata, set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long stopping the workspace engine may take.
const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "graylogic:", err)
		os.Exit(1)
	}
}

// closers runs shutdown steps in reverse registration order.
type closers struct {
	log   *logging.Logger
	steps []closeStep
}

type closeStep struct {
	name string
	fn   func() error
}

func (c *closers) add(name string, fn func() error) {
	c.steps = append(c.steps, closeStep{name, fn})
}

func (c *closers) closeAll() {
	for i := len(c.steps) - 1; i >= 0; i-- {
		st := c.steps[i]
		if err := st.fn(); err != nil {
			c.log.Error("shutdown step failed", "step", st.name, "error", err)
		}
	}
}

// run starts the hub and blocks until ctx is cancelled. Every component
// started before a failure is closed again before run returns.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Blocks", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID, "log_level", cfg.Logging.Level)

	stack := &closers{log: log}
	defer stack.closeAll()

	db, err := openStore(ctx, cfg.Database, log, stack)
	if err != nil {
		return err
	}
	documents := workspace.NewSQLiteDocumentRepository(db.DB)
	variables := workspace.NewSQLiteVariableRepository(db.DB)

	mqttClient := connectMQTT(cfg.MQTT, log, stack)
	influxClient, err := connectInflux(cfg.InfluxDB, log, stack)
	if err != nil {
		return err
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// The hub exists before the engine so notifications from the first
	// load reach WebSocket sessions.
	hub := api.NewHub(cfg.WebSocket, log.Component("ws"))
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	stack.add("websocket hub", func() error { stopHub(); return nil })

	engine, err := buildEngine(cfg, log, variables, hub, mqttClient, influxClient)
	if err != nil {
		return err
	}
	stack.add("workspace engine", func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return engine.Close(closeCtx)
	})

	if loadErr := engine.LoadAll(ctx, documents); loadErr != nil {
		// One broken document must not keep the others from running.
		log.Warn("some workspaces failed to load", "error", loadErr)
	}

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		Engine:    engine,
		Documents: documents,
		Variables: variables,
		Store:     db,
		Hub:       hub,
		Version:   version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	stack.add("api server", server.Close)

	log.Info("hub running", "workspaces", len(engine.Tabs()), "api", server.Addr())
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// openStore opens and migrates the workspace database.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger, stack *closers) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	stack.add("database", db.Close)

	applied, err := db.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("workspace store ready", "path", cfg.Path, "migrations_applied", applied)
	return db, nil
}

// connectMQTT returns nil when the broker is unreachable. The engine still
// runs, but mqtt blocks, remote broadcasts and MQTT notifications are off.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger, stack *closers) *mqtt.Client {
	mqttLog := log.Component("mqtt")
	client, err := mqtt.Connect(cfg,
		mqtt.WithLogger(mqttLog),
		mqtt.WithOnConnect(func() { mqttLog.Info("MQTT link up") }),
		mqtt.WithOnConnectionLost(func(err error) { mqttLog.Warn("MQTT link lost", "error", err) }),
	)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it", "error", err)
		return nil
	}
	stack.add("mqtt", client.Close)
	mqttLog.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port)),
		"client_id", cfg.Broker.ClientID,
	)
	return client
}

// connectInflux returns nil when execution metrics are disabled. An enabled
// but unreachable InfluxDB is a startup error.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger, stack *closers) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("execution metrics disabled")
		return nil, nil
	}
	influxLog := log.Component("influxdb")
	client, err := influxdb.Connect(cfg, influxdb.WithOnWriteError(func(err error) {
		influxLog.Error("execution metrics write failed", "error", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	stack.add("influxdb", client.Close)
	influxLog.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// buildEngine registers the built-in extensions and wires notifications
// to the log, WebSocket sessions and, when connected, MQTT. mqttClient and
// influxClient may be nil.
func buildEngine(
	cfg *config.Config,
	log *logging.Logger,
	variables *workspace.SQLiteVariableRepository,
	hub *api.Hub,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
) (*workspace.Engine, error) {
	engineLog := log.Component("workspace")

	deps := extensions.Deps{
		Variables: variables,
		FilesRoot: cfg.Workspace.FilesRoot,
		Logger:    engineLog,
	}
	notifiers := workspace.MultiNotifier{
		workspace.LogNotifier{Logger: engineLog},
		api.HubNotifier{Hub: hub},
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
		notifiers = append(notifiers, api.MQTTNotifier{Publisher: mqttClient, Logger: engineLog})
	}

	opts := workspace.EngineOptions{
		Variables: variables,
		Entities:  variables,
		Notifier:  notifiers,
		Logger:    engineLog,
		Config: workspace.EngineConfig{
			ReloadGrace:     cfg.Workspace.ReloadGrace(),
			ProcedureSettle: cfg.Workspace.ProcedureSettle(),
			PollInterval:    cfg.Workspace.PollInterval(),
			RunOnceOpcodes:  cfg.Workspace.RunOnceOpcodes,
			LoadConcurrency: cfg.Workspace.LoadConcurrency,
		},
	}
	if influxClient != nil {
		deps.Points = influxClient
		opts.Metrics = executionMetrics{client: influxClient}
	}

	handlers := workspace.NewHandlers()
	if err := extensions.RegisterAll(handlers, deps); err != nil {
		return nil, fmt.Errorf("registering block extensions: %w", err)
	}
	opts.Handlers = handlers

	return workspace.NewEngine(opts), nil
}

// executionMetrics adapts the InfluxDB client to workspace.MetricsWriter.
type executionMetrics struct {
	client *influxdb.Client
}

// WriteExecution implements workspace.MetricsWriter.
func (m executionMetrics) WriteExecution(rec workspace.ExecutionRecord) {
	m.client.WriteExecution(influxdb.Execution{
		TabID:     rec.TabID,
		BlockID:   rec.BlockID,
		Opcode:    rec.Opcode,
		Status:    string(rec.Status),
		StartedAt: rec.StartedAt,
		Duration:  rec.Duration,
	})
}

// getConfigPath honours GRAYLOGIC_CONFIG.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck checks every connected dependency and reports all failures.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}
