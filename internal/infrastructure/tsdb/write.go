package tsdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// Line protocol schema for telemetry readings. VictoriaMetrics exposes each
// field as the series <measurement>_<field> and each tag as a label.
// status is a tag because VictoriaMetrics discards string fields.
const (
	measurementSensorReading = "sensor_reading"
	tagDeviceID              = "device_id"
	tagStatus                = "status"
)

// WriteReading stores one validated reading. It implements ingest.Writer.
//
// Unreported sensor values are written as 0. The timestamp is truncated
// to whole seconds. An empty status is written without a status label.
func (c *Client) WriteReading(ctx context.Context, r *ingest.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	line := readingLine(r)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", strings.NewReader(line))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrWriteFailed, resp.StatusCode)
	}
	return nil
}

// readingLine formats a reading as one line of line protocol.
func readingLine(r *ingest.Reading) string {
	tempC, humidityPct, vibrationRMS := r.Sensors.Values()

	tags := map[string]string{
		tagDeviceID: r.DeviceID,
	}
	if status := statusLabel(r.Status); status != "" {
		tags[tagStatus] = status
	}

	return formatLineProtocol(
		measurementSensorReading,
		tags,
		map[string]interface{}{
			"temp_c":        tempC,
			"humidity_pct":  humidityPct,
			"vibration_rms": vibrationRMS,
			"seq":           r.Sequence,
		},
		r.Timestamp.Truncate(time.Second),
	)
}

// statusLabel drops backslashes from a device-supplied status. Tag values
// cannot escape a backslash, so one before an escaped space or comma would
// corrupt the line.
func statusLabel(s string) string {
	return strings.ReplaceAll(s, `\`, "")
}

// formatLineProtocol formats a data point as an InfluxDB line protocol string.
//
// Format: measurement,tag1=val1,tag2=val2 field1=val1,field2=val2 timestamp_ns
func formatLineProtocol(measurement string, tags map[string]string, fields map[string]interface{}, t time.Time) string {
	var b strings.Builder

	b.WriteString(escapeMeasurement(measurement))

	// Tags and fields sorted for deterministic output.
	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(tags[k]))
	}

	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	b.WriteByte(' ')
	for i, k := range fieldKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		switch val := fields[k].(type) {
		case float64:
			fmt.Fprintf(&b, "%g", val)
		case int64:
			fmt.Fprintf(&b, "%di", val)
		case bool:
			fmt.Fprintf(&b, "%t", val)
		case string:
			b.WriteString(quoteFieldString(val))
		default:
			fmt.Fprintf(&b, "%v", val)
		}
	}

	b.WriteByte(' ')
	fmt.Fprintf(&b, "%d", t.UnixNano())

	return b.String()
}

// quoteFieldString quotes a string field value. Only backslash and double
// quote are escaped; newlines are stripped to prevent line injection.
func quoteFieldString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// escapeTag escapes special characters in tag keys/values per line protocol spec.
// Commas, equals signs, and spaces must be backslash-escaped.
// Newlines are stripped to prevent line protocol injection.
func escapeTag(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return s
}

// escapeMeasurement escapes special characters in measurement names.
func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return s
}
