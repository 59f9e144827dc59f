package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// defaultStatus is stored when a device omits the status tag.
const defaultStatus = "?"

// Sensors holds the three physical measurements a device may report.
// A nil field means "not reported", which is distinct from a zero reading.
type Sensors struct {
	TempC        *float64 `json:"temp_c,omitempty"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"`
	VibrationRMS *float64 `json:"vibration_rms,omitempty"`
}

// Reading is one decoded telemetry sample. It only lives for the duration
// of pipeline processing.
type Reading struct {
	DeviceID  string
	Timestamp time.Time
	Sequence  int64
	Sensors   Sensors
	Status    string

	// Signature is the hex HMAC carried in the payload, empty when unsigned.
	Signature string
}

// wireReading is the payload as published by devices. Every member is
// optional at the JSON level; presence is decided after unmarshalling.
type wireReading struct {
	DeviceID *string  `json:"device_id"`
	TS       *string  `json:"ts"`
	Seq      *int64   `json:"seq"`
	Sensors  *Sensors `json:"sensors"`
	Status   *string  `json:"status"`
	Sig      *string  `json:"sig"`
}

// naiveTimestampLayout accepts ISO-8601 timestamps without an offset,
// which are interpreted as UTC.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999999"

// Decode parses a raw payload into a Reading.
//
// Structural problems (invalid JSON, a non-object document, members of the
// wrong type) and semantic ones (a negative sequence, an unparsable
// timestamp) return ErrDecode. A missing device_id is not a decode failure;
// it surfaces as an empty identifier and is rejected by ValidateDeviceID.
// A missing ts defaults to now, a missing seq to 0 and a missing status
// to "?".
//
// Decode does not look at the identifier. The pipeline runs the same two
// steps with ValidateDeviceID between them, so a bad identifier is reported
// before any other member is interpreted.
func Decode(raw []byte, now time.Time) (*Reading, error) {
	w, err := decodeWire(raw)
	if err != nil {
		return nil, err
	}
	return w.reading(now)
}

// decodeWire checks only JSON shape and member types.
func decodeWire(raw []byte) (*wireReading, error) {
	var w *wireReading
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrDecode)
	}
	return w, nil
}

func (w *wireReading) deviceID() string {
	if w.DeviceID == nil {
		return ""
	}
	return *w.DeviceID
}

// reading interprets the members and applies defaults.
func (w *wireReading) reading(now time.Time) (*Reading, error) {
	r := &Reading{
		DeviceID:  w.deviceID(),
		Timestamp: now.UTC(),
		Status:    defaultStatus,
	}
	if w.Seq != nil {
		if *w.Seq < 0 {
			return nil, fmt.Errorf("%w: seq %d is negative", ErrDecode, *w.Seq)
		}
		r.Sequence = *w.Seq
	}
	if w.Sensors != nil {
		r.Sensors = *w.Sensors
	}
	if w.Status != nil {
		r.Status = *w.Status
	}
	if w.Sig != nil {
		r.Signature = *w.Sig
	}
	if w.TS != nil && *w.TS != "" {
		ts, err := parseTimestamp(*w.TS)
		if err != nil {
			return nil, fmt.Errorf("%w: ts: %w", ErrDecode, err)
		}
		r.Timestamp = ts
	}
	return r, nil
}

// parseTimestamp accepts RFC 3339 (with Z or a numeric offset) and naive
// ISO-8601 timestamps, returning the instant in UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(naiveTimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return t.UTC(), nil
}

// StoredReading is a reading as read back from the time-series store.
// Unreported sensor values come back as 0.
type StoredReading struct {
	Time         time.Time `json:"time"`
	DeviceID     string    `json:"device_id"`
	TempC        float64   `json:"temp_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	VibrationRMS float64   `json:"vibration_rms"`
	Sequence     int64     `json:"seq"`
	Status       string    `json:"status,omitempty"`
}
