package extensions

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// MQTTClient is the subset of the MQTT client used by the mqtt extension.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// PointWriter writes telemetry points. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// VariableStore reads and writes workspace variables.
// *workspace.SQLiteVariableRepository satisfies it.
type VariableStore interface {
	workspace.VariableStore
	workspace.VariableWriter
}

// Deps holds the collaborators of the built-in extensions. All are optional.
type Deps struct {
	MQTT      MQTTClient
	Points    PointWriter
	Variables VariableStore
	FilesRoot string
	Logger    workspace.Logger
}

// All returns every built-in extension.
func All(deps Deps) []workspace.Extension {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return []workspace.Extension{
		Event{},
		Control{},
		Procedures{},
		Arguments{},
		Operators{},
		&Data{Variables: deps.Variables},
		NewMQTT(deps.MQTT, deps.Logger),
		&Telemetry{Points: deps.Points},
		&Filesystem{Root: deps.FilesRoot},
	}
}

// RegisterAll installs every built-in extension into h.
func RegisterAll(h *workspace.Handlers, deps Deps) error {
	for _, ext := range All(deps) {
		if err := h.Register(ext); err != nil {
			return fmt.Errorf("registering extension %s: %w", ext.ID(), err)
		}
	}
	return nil
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tabTags identifies the block in telemetry and log output.
func tabTags(b *workspace.Block) map[string]string {
	return map[string]string{
		"tab_id":   b.Tab().ID,
		"block_id": b.ID,
	}
}
