// Package influxdb records workspace activity in an InfluxDB v2 bucket.
//
// Two kinds of point are written: one workspace_execution point per
// finished script root (tagged by tab, opcode and status), and whatever
// telemetry blocks write. Writes are batched by the client library
// (batch_size and flush_interval in config.yaml) and never block the
// engine; failed batches are reported through WithOnWriteError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB,
//	    influxdb.WithOnWriteError(func(err error) { log.Error("influx write", "error", err) }))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package influxdb
