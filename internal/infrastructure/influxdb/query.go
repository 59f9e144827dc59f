package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// recentReadingsFlux selects the newest readings of one device, one row
// per point. All inputs are passed as parameters, never interpolated.
const recentReadingsFlux = `from(bucket: params.bucket)
  |> range(start: params.start)
  |> filter(fn: (r) => r._measurement == params.measurement and r.device_id == params.deviceID)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: params.limit)`

type recentReadingsParams struct {
	Bucket      string    `json:"bucket"`
	Start       time.Time `json:"start"`
	Measurement string    `json:"measurement"`
	DeviceID    string    `json:"deviceID"`
	Limit       int       `json:"limit"`
}

// RecentReadings returns up to limit readings of deviceID stored within
// window, newest first. limit must be positive.
func (c *Client) RecentReadings(ctx context.Context, deviceID string, window time.Duration, limit int) ([]ingest.StoredReading, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrQueryFailed)
	}
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	params := recentReadingsParams{
		Bucket:      c.cfg.Bucket,
		Start:       time.Now().Add(-window).UTC(),
		Measurement: MeasurementSensorReading,
		DeviceID:    deviceID,
		Limit:       limit,
	}

	result, err := c.queryAPI.QueryWithParams(ctx, recentReadingsFlux, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	readings := make([]ingest.StoredReading, 0, limit)
	for result.Next() {
		readings = append(readings, storedReading(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return readings, nil
}

// storedReading maps one pivoted Flux record to a StoredReading.
func storedReading(rec *query.FluxRecord) ingest.StoredReading {
	status, _ := rec.ValueByKey(FieldStatus).(string)
	deviceID, _ := rec.ValueByKey(TagDeviceID).(string)

	return ingest.StoredReading{
		Time:         rec.Time().UTC(),
		DeviceID:     deviceID,
		TempC:        asFloat(rec.ValueByKey(FieldTempC)),
		HumidityPct:  asFloat(rec.ValueByKey(FieldHumidityPct)),
		VibrationRMS: asFloat(rec.ValueByKey(FieldVibrationRMS)),
		Sequence:     asInt(rec.ValueByKey(FieldSeq)),
		Status:       status,
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n) // #nosec G115 -- sequence numbers fit in int64
	case float64:
		return int64(n)
	default:
		return 0
	}
}
