// Package influxdb stores telemetry readings in InfluxDB 2.x.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, synchronous writes and the recent-readings query used by the
// read API.
//
// # Schema
//
//	measurement: sensor_reading
//	tag:         device_id
//	fields:      temp_c, humidity_pct, vibration_rms (float, 0 when unreported)
//	             seq (integer), status (string)
//	time:        reading timestamp, second precision
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WriteReading(ctx, reading)
//
// # Error Handling
//
// Writes are blocking: a failed write is returned to the caller as
// ErrWriteFailed and is not retried.
package influxdb
