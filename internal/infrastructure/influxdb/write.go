package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ExecutionMeasurement is the measurement root executions are recorded under.
const ExecutionMeasurement = "workspace_execution"

// Execution is one finished run of a script root.
type Execution struct {
	TabID     string
	BlockID   string
	Opcode    string
	Status    string // completed, failed or cancelled
	StartedAt time.Time
	Duration  time.Duration
}

// WriteExecution queues e for the next batch. The point is stamped with
// e.StartedAt.
func (c *Client) WriteExecution(e Execution) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(executionPoint(e))
}

// executionPoint keeps tags low cardinality; the block ID is a field.
func executionPoint(e Execution) *write.Point {
	return write.NewPoint(ExecutionMeasurement,
		map[string]string{
			"tab_id": e.TabID,
			"opcode": e.Opcode,
			"status": e.Status,
		},
		map[string]interface{}{
			"block_id":    e.BlockID,
			"duration_ms": float64(e.Duration) / float64(time.Millisecond),
		},
		e.StartedAt)
}

// WritePoint queues a telemetry block's point, stamped now.
//
//	client.WritePoint("boiler_temp",
//	    map[string]string{"tab_id": "heating"},
//	    map[string]interface{}{"value": 61.5})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
