package influxdb

import (
	"testing"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

func TestReadingPoint(t *testing.T) {
	temp := 25.0
	vib := 0.3
	ts := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	p := readingPoint(&ingest.Reading{
		DeviceID:  "pump-01",
		Timestamp: ts,
		Sequence:  100,
		Sensors:   ingest.Sensors{TempC: &temp, VibrationRMS: &vib},
		Status:    "ok",
	})

	if p.Name() != MeasurementSensorReading {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementSensorReading)
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}

	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != TagDeviceID || tags[0].Value != "pump-01" {
		t.Errorf("tags = %+v, want only device_id=pump-01", tags)
	}

	want := map[string]interface{}{
		FieldTempC:        25.0,
		FieldHumidityPct:  0.0,
		FieldVibrationRMS: 0.3,
		FieldSeq:          int64(100),
		FieldStatus:       "ok",
	}
	fields := p.FieldList()
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for _, f := range fields {
		if f.Value != want[f.Key] {
			t.Errorf("field %s = %v (%T), want %v (%T)", f.Key, f.Value, f.Value, want[f.Key], want[f.Key])
		}
	}
}

func TestAsFloatAndInt(t *testing.T) {
	if asFloat(int64(3)) != 3 || asFloat(2.5) != 2.5 || asFloat(nil) != 0 || asFloat("x") != 0 {
		t.Error("asFloat conversions incorrect")
	}
	if asInt(int64(7)) != 7 || asInt(uint64(8)) != 8 || asInt(9.0) != 9 || asInt(nil) != 0 {
		t.Error("asInt conversions incorrect")
	}
}
