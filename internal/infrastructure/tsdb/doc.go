// Package tsdb stores telemetry readings in VictoriaMetrics.
//
// It is the alternative to the influxdb package, selected with
// store.backend: victoriametrics. Readings are written one at a time as
// InfluxDB line protocol to /write and read back through /api/v1/export.
//
// VictoriaMetrics flattens each field into its own series
// (sensor_reading_temp_c{device_id="...",status="ok"}) and drops string
// fields, so status travels as a label rather than a field. Each distinct
// status value a device reports starts new series.
//
// # Usage
//
//	client, err := tsdb.Connect(ctx, cfg.TSDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteReading(ctx, reading)
package tsdb
