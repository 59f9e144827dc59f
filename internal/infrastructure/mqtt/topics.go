package mqtt

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the root topic segment when none is configured.
const DefaultNamespace = "nexlytix"

// telemetrySuffix is the last segment of every device telemetry topic.
const telemetrySuffix = "telemetry"

// Topics provides builders for Nexlytix MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Namespace: "nexlytix"}
//	topics.Telemetry("acme", "pump-01")
//	// Returns: "nexlytix/acme/pump-01/telemetry"
type Topics struct {
	// Namespace is the root segment. Empty uses DefaultNamespace.
	Namespace string
}

func (t Topics) ns() string {
	if t.Namespace == "" {
		return DefaultNamespace
	}
	return t.Namespace
}

// Telemetry returns the topic a device publishes readings to.
//
// Example: nexlytix/acme/pump-01/telemetry
func (t Topics) Telemetry(org, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.ns(), org, deviceID, telemetrySuffix)
}

// AllTelemetry returns a pattern matching telemetry from every device of
// every organisation.
//
// Pattern: nexlytix/+/+/telemetry
func (t Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/+/+/%s", t.ns(), telemetrySuffix)
}

// SystemStatus returns the topic carrying the core's online/offline status.
//
// Example: nexlytix/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.ns())
}

// ParseTelemetry splits a telemetry topic into its organisation and device
// segments. ok is false if topic is not a telemetry topic in this namespace.
//
// The segments come from the broker and are only useful for diagnostics;
// the authoritative device identity is the payload's device_id.
func (t Topics) ParseTelemetry(topic string) (org, deviceID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != t.ns() || parts[3] != telemetrySuffix {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
