package tsdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// newTestClient creates a TSDB client bound to the test server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		url:        server.URL,
		httpClient: server.Client(),
		connected:  true,
	}
}

const exportBody = `{"metric":{"__name__":"sensor_reading_temp_c","device_id":"A","status":"ok"},"values":[20.5,21],"timestamps":[1700000000000,1700000001000]}
{"metric":{"__name__":"sensor_reading_temp_c","device_id":"A","status":"warn"},"values":[22.5],"timestamps":[1700000002000]}
{"metric":{"__name__":"sensor_reading_seq","device_id":"A","status":"ok"},"values":[1,2],"timestamps":[1700000000000,1700000001000]}
{"metric":{"__name__":"sensor_reading_seq","device_id":"A","status":"warn"},"values":[3],"timestamps":[1700000002000]}
{"metric":{"__name__":"sensor_reading_humidity_pct","device_id":"A","status":"warn"},"values":[40],"timestamps":[1700000002000]}
`

func TestRecentReadings(t *testing.T) {
	var gotMatch, gotStart, gotEnd string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/export" {
			t.Errorf("path = %q, want /api/v1/export", r.URL.Path)
		}
		gotMatch = r.URL.Query().Get("match[]")
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		_, _ = w.Write([]byte(exportBody))
	}))
	defer server.Close()

	client := newTestClient(server)

	got, err := client.RecentReadings(context.Background(), "A", 24*time.Hour, 2)
	if err != nil {
		t.Fatalf("RecentReadings() error = %v", err)
	}

	if gotMatch != `{__name__=~"sensor_reading_.+",device_id="A"}` {
		t.Errorf("match[] = %q", gotMatch)
	}
	if gotStart == "" || gotEnd == "" {
		t.Errorf("start/end not set: %q/%q", gotStart, gotEnd)
	}

	if len(got) != 2 {
		t.Fatalf("got %d readings, want 2 (limit)", len(got))
	}
	newest := got[0]
	if newest.Sequence != 3 || newest.TempC != 22.5 || newest.HumidityPct != 40 || newest.DeviceID != "A" || newest.Status != "warn" {
		t.Errorf("newest = %+v", newest)
	}
	if want := time.UnixMilli(1700000002000).UTC(); !newest.Time.Equal(want) {
		t.Errorf("newest.Time = %v, want %v", newest.Time, want)
	}
	if got[1].Sequence != 2 || got[1].HumidityPct != 0 || got[1].Status != "ok" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestRecentReadings_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		limit   int
		wantErr error
	}{
		{"http error", http.StatusBadGateway, "", 10, ErrQueryFailed},
		{"bad json", http.StatusOK, "{not json", 10, ErrQueryFailed},
		{"zero limit", http.StatusOK, "", 0, ErrQueryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).RecentReadings(context.Background(), "A", time.Hour, tt.limit)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("RecentReadings() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecentReadings_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	got, err := newTestClient(server).RecentReadings(context.Background(), "A", time.Hour, 10)
	if err != nil {
		t.Fatalf("RecentReadings() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d readings, want 0", len(got))
	}
}

func TestMergeExport_NoStatusLabel(t *testing.T) {
	body := []byte(`{"metric":{"__name__":"sensor_reading_seq","device_id":"A"},"values":[7],"timestamps":[1700000000000]}`)

	got, err := mergeExport(body, "A")
	if err != nil {
		t.Fatalf("mergeExport() error = %v", err)
	}
	if len(got) != 1 || got[0].Sequence != 7 || got[0].Status != "" {
		t.Errorf("mergeExport() = %+v", got)
	}
}

func TestWriteReadingBody(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := new(strings.Builder)
		_, _ = io.Copy(b, r.Body)
		body = b.String()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	temp := 25.0
	tests := []struct {
		name   string
		status string
		want   string
	}{
		{
			name:   "status label",
			status: "ok",
			want:   `sensor_reading,device_id=A,status=ok humidity_pct=0,seq=100i,temp_c=25,vibration_rms=0 1700000000000000000`,
		},
		{
			name:   "escaped status",
			status: `low batt,\=1`,
			want:   `sensor_reading,device_id=A,status=low\ batt\,\=1 humidity_pct=0,seq=100i,temp_c=25,vibration_rms=0 1700000000000000000`,
		},
		{
			name:   "empty status",
			status: "",
			want:   `sensor_reading,device_id=A humidity_pct=0,seq=100i,temp_c=25,vibration_rms=0 1700000000000000000`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestClient(server).WriteReading(context.Background(), &ingest.Reading{
				DeviceID:  "A",
				Timestamp: time.Unix(1700000000, 999),
				Sequence:  100,
				Sensors:   ingest.Sensors{TempC: &temp},
				Status:    tt.status,
			})
			if err != nil {
				t.Fatalf("WriteReading() error = %v", err)
			}
			if body != tt.want {
				t.Errorf("body =\n%s\nwant\n%s", body, tt.want)
			}
		})
	}
}
