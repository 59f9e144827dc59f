package tsdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// maxResponseSize caps how much of a query response is read.
const maxResponseSize = 10 << 20 // 10 MB

// exportLine is one series from /api/v1/export.
type exportLine struct {
	Metric     map[string]string `json:"metric"`
	Values     []float64         `json:"values"`
	Timestamps []int64           `json:"timestamps"`
}

// RecentReadings returns up to limit readings of deviceID stored within
// window, newest first. Status comes from the series' status label.
func (c *Client) RecentReadings(ctx context.Context, deviceID string, window time.Duration, limit int) ([]ingest.StoredReading, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrQueryFailed)
	}

	end := time.Now()
	params := url.Values{}
	params.Set("match[]", fmt.Sprintf(`{__name__=~"%s_.+",%s=%s}`,
		measurementSensorReading, tagDeviceID, strconv.Quote(deviceID)))
	params.Set("start", formatUnixSeconds(end.Add(-window)))
	params.Set("end", formatUnixSeconds(end))

	body, err := c.doQuery(ctx, "/api/v1/export", params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	readings, err := mergeExport(body, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	if len(readings) > limit {
		readings = readings[:limit]
	}
	return readings, nil
}

// mergeExport folds per-field series back into readings keyed by
// timestamp, sorted newest first.
func mergeExport(body []byte, deviceID string) ([]ingest.StoredReading, error) {
	byTime := make(map[int64]*ingest.StoredReading)
	prefix := measurementSensorReading + "_"

	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		var line exportLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding export: %w", err)
		}
		field := strings.TrimPrefix(line.Metric["__name__"], prefix)

		for i, ts := range line.Timestamps {
			if i >= len(line.Values) {
				break
			}
			r, ok := byTime[ts]
			if !ok {
				r = &ingest.StoredReading{
					Time:     time.UnixMilli(ts).UTC(),
					DeviceID: deviceID,
				}
				byTime[ts] = r
			}
			if status := line.Metric[tagStatus]; status != "" {
				r.Status = status
			}
			v := line.Values[i]
			switch field {
			case "temp_c":
				r.TempC = v
			case "humidity_pct":
				r.HumidityPct = v
			case "vibration_rms":
				r.VibrationRMS = v
			case "seq":
				r.Sequence = int64(v)
			}
		}
	}

	readings := make([]ingest.StoredReading, 0, len(byTime))
	for _, r := range byTime {
		readings = append(readings, *r)
	}
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Time.After(readings[j].Time)
	})
	return readings, nil
}

// doQuery executes a GET request and returns the raw response body.
func (c *Client) doQuery(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.url + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query failed: HTTP %d", resp.StatusCode)
	}

	return body, nil
}

// formatUnixSeconds converts a timestamp to a seconds-since-epoch string.
func formatUnixSeconds(t time.Time) string {
	seconds := float64(t.UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
