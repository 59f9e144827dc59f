package influxdb

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// Point schema for telemetry readings.
const (
	MeasurementSensorReading = "sensor_reading"

	TagDeviceID = "device_id"

	FieldTempC        = "temp_c"
	FieldHumidityPct  = "humidity_pct"
	FieldVibrationRMS = "vibration_rms"
	FieldSeq          = "seq"
	FieldStatus       = "status"
)

// WriteReading stores one validated reading and waits for the server's
// answer. It implements ingest.Writer.
//
// The device is the only tag. Sensor values the device did not report
// are written as 0 because every field must be present on each point.
func (c *Client) WriteReading(ctx context.Context, r *ingest.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.writeAPI.WritePoint(ctx, readingPoint(r)); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// readingPoint converts a reading to its InfluxDB point.
func readingPoint(r *ingest.Reading) *write.Point {
	tempC, humidityPct, vibrationRMS := r.Sensors.Values()

	return write.NewPoint(
		MeasurementSensorReading,
		map[string]string{
			TagDeviceID: r.DeviceID,
		},
		map[string]interface{}{
			FieldTempC:        tempC,
			FieldHumidityPct:  humidityPct,
			FieldVibrationRMS: vibrationRMS,
			FieldSeq:          r.Sequence,
			FieldStatus:       r.Status,
		},
		r.Timestamp,
	)
}
