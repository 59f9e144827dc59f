package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nexlytix-core/internal/audit"
	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// Telemetry query shape.
const (
	telemetryWindow = 24 * time.Hour
	telemetryLimit  = 10
)

// TelemetryResponse is the body of GET /api/telemetry/{device_id}.
type TelemetryResponse struct {
	DeviceID string                 `json:"device_id"`
	Count    int                    `json:"count"`
	Data     []ingest.StoredReading `json:"data"`
}

// handleTelemetry returns the device's most recent readings, newest first.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")
	if err := ingest.ValidateDeviceID(deviceID); err != nil {
		s.logger.Warn("invalid device_id in query", "error", err)
		writeBadRequest(w, "invalid device_id format")
		return
	}

	if s.deps.Readings == nil {
		writeUnavailable(w, "time-series store not configured")
		return
	}

	data, err := s.deps.Readings.RecentReadings(r.Context(), deviceID, telemetryWindow, telemetryLimit)
	if err != nil {
		s.logger.Error("telemetry query failed",
			"device_id", deviceID,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w)
		return
	}
	if data == nil {
		data = []ingest.StoredReading{}
	}

	s.logger.Info("telemetry query", "device_id", deviceID, "records", len(data))
	writeJSON(w, http.StatusOK, TelemetryResponse{
		DeviceID: deviceID,
		Count:    len(data),
		Data:     data,
	})
}

// handleListRejections pages through the rejection audit trail.
//
// Query parameters: reason, device_id, limit, offset.
func (s *Server) handleListRejections(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rejections == nil {
		writeUnavailable(w, "rejection audit not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Reason:   q.Get("reason"),
		DeviceID: q.Get("device_id"),
	}

	if filter.Reason != "" && !knownReason(filter.Reason) {
		writeBadRequest(w, "unknown reason")
		return
	}
	if filter.DeviceID != "" {
		if err := ingest.ValidateDeviceID(filter.DeviceID); err != nil {
			writeBadRequest(w, "invalid device_id format")
			return
		}
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.deps.Rejections.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing rejections failed", "error", err)
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func knownReason(reason string) bool {
	switch reason {
	case ingest.ReasonDecode, ingest.ReasonIdentity, ingest.ReasonIntegrity,
		ingest.ReasonReplay, ingest.ReasonRange, ingest.ReasonStore:
		return true
	}
	return false
}

var errNotInteger = errors.New("not an integer")

// intParam parses an optional integer query parameter; empty means 0.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}
