package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-blocks/migrations"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace/extensions"
)

// broadcastWait bounds how long a --broadcast waits for a listening hat.
const broadcastWait = 2 * time.Second

// closeTimeout bounds how long stopping the engine may take.
const closeTimeout = 5 * time.Second

type runFlags struct {
	duration   time.Duration
	dbPath     string
	filesRoot  string
	broadcasts []string
	useMQTT    bool
}

func newRunCmd(opts *options) *cobra.Command {
	flags := &runFlags{}

	c := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workspace document locally",
		Long: `Load a workspace document into a local engine with the built-in
extensions and let it run. Block errors are printed as they happen; the
final variable values and a per-status execution count are printed on exit.

Without --db the variables live in a scratch database that is removed
afterwards. MQTT blocks only work with --mqtt and a reachable broker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runFile(ctx, cmd.OutOrStdout(), opts, flags, args[0])
		},
	}

	c.Flags().DurationVar(&flags.duration, "for", 0, "stop after this long (default: until interrupted)")
	c.Flags().StringVar(&flags.dbPath, "db", "", "SQLite database holding variables (default: scratch database)")
	c.Flags().StringVar(&flags.filesRoot, "files-root", "", "directory the filesystem blocks may watch")
	c.Flags().StringArrayVar(&flags.broadcasts, "broadcast", nil, "send a broadcast once the workspace is running (repeatable)")
	c.Flags().BoolVar(&flags.useMQTT, "mqtt", false, "connect to the MQTT broker from the config")
	return c
}

func runFile(ctx context.Context, out io.Writer, opts *options, flags *runFlags, path string) error { //nolint:gocognit // linear setup sequence
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := opts.logger(cfg)

	content, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	dbPath := flags.dbPath
	if dbPath == "" {
		dir, tmpErr := os.MkdirTemp("", "blockctl-")
		if tmpErr != nil {
			return fmt.Errorf("creating scratch directory: %w", tmpErr)
		}
		defer os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup
		dbPath = filepath.Join(dir, "run.db")
	}

	db, err := database.Open(database.Config{
		Path:        dbPath,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // closing on exit
	if _, err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	variables := workspace.NewSQLiteVariableRepository(db.DB)

	deps := extensions.Deps{
		Variables: variables,
		FilesRoot: flags.filesRoot,
		Logger:    log.Component("workspace"),
	}
	if flags.filesRoot == "" {
		deps.FilesRoot = cfg.Workspace.FilesRoot
	}
	if flags.useMQTT {
		client, mqttErr := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log.Component("mqtt")))
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer client.Close() //nolint:errcheck // closing on exit
		deps.MQTT = client
	}

	engine, counts, err := newLocalEngine(cfg, log, variables, deps, out)
	if err != nil {
		return err
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tab, err := engine.Reload(ctx, workspace.Document{ID: id, Name: id, Content: content})
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	printf(out, "running %s: %d scripts\n", tab.ID, len(tab.Roots()))

	for _, name := range flags.broadcasts {
		woken := broadcast(ctx, engine, name)
		printf(out, "broadcast %q woke %d scripts\n", name, woken)
	}

	if flags.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, flags.duration)
		defer stop()
	}
	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := engine.Close(closeCtx); err != nil {
		log.Warn("engine did not stop cleanly", "error", err)
	}

	vars, err := variables.ListVariables(context.Background())
	if err != nil {
		return fmt.Errorf("listing variables: %w", err)
	}
	printf(out, "\nvariables (%d):\n", len(vars))
	for _, v := range vars {
		printf(out, "  %s = %v\n", v.Name, v.Value)
	}
	printf(out, "\nexecutions: %s\n", counts)
	return nil
}

// newLocalEngine wires an engine that prints notifications to out and
// counts finished root executions.
func newLocalEngine(
	cfg *config.Config,
	log *logging.Logger,
	variables *workspace.SQLiteVariableRepository,
	deps extensions.Deps,
	out io.Writer,
) (*workspace.Engine, *executionCounts, error) {
	handlers := workspace.NewHandlers()
	if err := extensions.RegisterAll(handlers, deps); err != nil {
		return nil, nil, fmt.Errorf("registering block extensions: %w", err)
	}

	counts := &executionCounts{byStatus: make(map[workspace.ExecutionStatus]int)}
	engine := workspace.NewEngine(workspace.EngineOptions{
		Handlers:  handlers,
		Variables: variables,
		Entities:  variables,
		Notifier:  newPrintNotifier(out),
		Metrics:   counts,
		Logger:    log.Component("workspace"),
		Config: workspace.EngineConfig{
			ReloadGrace:     cfg.Workspace.ReloadGrace(),
			ProcedureSettle: cfg.Workspace.ProcedureSettle(),
			PollInterval:    cfg.Workspace.PollInterval(),
			RunOnceOpcodes:  cfg.Workspace.RunOnceOpcodes,
			LoadConcurrency: cfg.Workspace.LoadConcurrency,
		},
	})
	return engine, counts, nil
}

// broadcast signals name, retrying until a hat is listening or
// broadcastWait passes. Returns how many listeners were woken.
func broadcast(ctx context.Context, engine *workspace.Engine, name string) int {
	key := extensions.BroadcastKey(name)
	deadline := time.Now().Add(broadcastWait)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if woken := engine.SignalAll(key, name); woken > 0 || time.Now().After(deadline) {
			return woken
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

// newPrintNotifier returns a notifier writing one line per notification.
func newPrintNotifier(out io.Writer) workspace.Notifier {
	var mu sync.Mutex
	return workspace.NotifierFunc(func(n workspace.Notification) {
		mu.Lock()
		defer mu.Unlock()
		if n.BlockID != "" {
			printf(out, "[%s] %s/%s (%s): %s\n", n.Level, n.TabID, n.BlockID, n.Opcode, n.Message)
			return
		}
		printf(out, "[%s] %s: %s\n", n.Level, n.TabID, n.Message)
	})
}

// executionCounts tallies finished root executions by status.
type executionCounts struct {
	mu       sync.Mutex
	byStatus map[workspace.ExecutionStatus]int
}

// WriteExecution implements workspace.MetricsWriter.
func (c *executionCounts) WriteExecution(rec workspace.ExecutionRecord) {
	c.mu.Lock()
	c.byStatus[rec.Status]++
	c.mu.Unlock()
}

// Count returns the number of executions that finished with status.
func (c *executionCounts) Count(status workspace.ExecutionStatus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byStatus[status]
}

func (c *executionCounts) String() string {
	return fmt.Sprintf("%d completed, %d failed, %d cancelled",
		c.Count(workspace.StatusCompleted),
		c.Count(workspace.StatusFailed),
		c.Count(workspace.StatusCancelled))
}
