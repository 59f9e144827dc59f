package ingest

import "errors"

// Rejection errors. Every message that does not reach the store is dropped
// with exactly one of these, wrapped with detail. Use errors.Is to classify.
var (
	// ErrDecode is returned when a payload is not a well-formed telemetry document.
	ErrDecode = errors.New("ingest: malformed payload")

	// ErrIdentity is returned when the device identifier is empty, too long,
	// or contains characters outside [A-Za-z0-9_-].
	ErrIdentity = errors.New("ingest: invalid device identifier")

	// ErrIntegrity is returned when a signature is present but does not match,
	// or is absent while signatures are required.
	ErrIntegrity = errors.New("ingest: integrity verification failed")

	// ErrReplay is returned when a sequence number is not strictly greater
	// than the last accepted sequence for the device.
	ErrReplay = errors.New("ingest: replayed sequence")

	// ErrRange is returned when a sensor value lies outside its physical bounds.
	ErrRange = errors.New("ingest: sensor value out of range")

	// ErrStore is returned when the persistence adapter fails to write a reading.
	ErrStore = errors.New("ingest: store write failed")
)

// Rejection reasons, used as metric labels and audit records.
const (
	ReasonDecode    = "decode"
	ReasonIdentity  = "identity"
	ReasonIntegrity = "integrity"
	ReasonReplay    = "replay"
	ReasonRange     = "range"
	ReasonStore     = "store"
)

// Reason maps a rejection error to its short reason label.
// It returns an empty string for nil or unclassified errors.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return ReasonDecode
	case errors.Is(err, ErrIdentity):
		return ReasonIdentity
	case errors.Is(err, ErrIntegrity):
		return ReasonIntegrity
	case errors.Is(err, ErrReplay):
		return ReasonReplay
	case errors.Is(err, ErrRange):
		return ReasonRange
	case errors.Is(err, ErrStore):
		return ReasonStore
	default:
		return ""
	}
}
