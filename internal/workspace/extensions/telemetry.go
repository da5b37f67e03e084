package extensions

import (
	"context"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Telemetry writes numeric points to the time-series store.
type Telemetry struct {
	Points PointWriter
}

// ID implements workspace.Extension.
func (*Telemetry) ID() string { return "telemetry" }

// Blocks implements workspace.Extension.
func (t *Telemetry) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"writepoint": {Kind: workspace.KindCommand, Handle: t.writePoint},
	}
}

// writePoint records VALUE under the MEASUREMENT menu, tagged with the tab
// and block that wrote it.
func (t *Telemetry) writePoint(ctx context.Context, b *workspace.Block) error {
	if t.Points == nil {
		return ErrTelemetryUnavailable
	}
	measurement, err := b.MenuText(ctx, "MEASUREMENT", "", true)
	if err != nil {
		return err
	}
	value, err := b.InputFloat(ctx, "VALUE", 0)
	if err != nil {
		return err
	}
	t.Points.WritePoint(measurement, tabTags(b), map[string]interface{}{"value": value})
	return nil
}
