package mqtt

import "errors"

// Sentinel errors. Wrapped errors keep these as their root so callers can
// branch with errors.Is.
var (
	// ErrNotConnected means the broker session is down. The ingest listener
	// treats it as a reason to rebuild the session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the first dial failure in Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned by Publish (the seeder path).
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed covers a refused, timed out or malformed subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects anything outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
