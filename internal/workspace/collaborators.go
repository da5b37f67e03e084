package workspace

import (
	"context"
	"time"
)

// Logger defines the logging interface used by the workspace engine.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Level is the severity of a UI notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a human-readable message for the UI channel.
type Notification struct {
	TabID   string    `json:"tab_id"`
	BlockID string    `json:"block_id,omitempty"`
	Opcode  string    `json:"opcode,omitempty"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier is the sink for runtime errors and warnings shown to users.
// Implementations must be safe for concurrent use and must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// MultiNotifier fans a notification out to several sinks.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// LogNotifier writes notifications to a logger. Used when no UI is attached.
type LogNotifier struct {
	Logger Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(n Notification) {
	if l.Logger == nil {
		return
	}
	args := []any{"tab_id", n.TabID, "block_id", n.BlockID, "opcode", n.Opcode}
	switch n.Level {
	case LevelError:
		l.Logger.Error(n.Message, args...)
	case LevelWarning:
		l.Logger.Warn(n.Message, args...)
	default:
		l.Logger.Info(n.Message, args...)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}

// VariableStore returns the current raw value of a named variable.
// It backs the variable kind of primitive input.
type VariableStore interface {
	GetVariable(ctx context.Context, id string) (any, error)
}

// VariableWriter is implemented by stores that also accept writes.
type VariableWriter interface {
	SetVariable(ctx context.Context, id, name string, value any) error
}

// EntityResolver looks up an entity by ID for menu inputs that name one.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, id string) (any, error)
}

// ExecutionStatus is the outcome of one scheduled root execution.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionRecord describes a finished root execution.
type ExecutionRecord struct {
	ExecutionID string
	TabID       string
	BlockID     string
	Opcode      string
	Status      ExecutionStatus
	StartedAt   time.Time
	Duration    time.Duration
}

// MetricsWriter receives execution records. Writes must not block.
type MetricsWriter interface {
	WriteExecution(rec ExecutionRecord)
}
