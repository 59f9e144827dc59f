// Package api implements the read-side HTTP API for Nexlytix Core.
//
// Endpoints:
//
//	GET /                          liveness, always {"status":"ok"}
//	GET /health                    listener state plus store and audit probes
//	GET /metrics                   Prometheus exposition
//	GET /api/telemetry/{device_id} last 10 readings within 24h, newest first
//	GET /api/rejections            rejection audit trail, paged
//
// Routes under /api are rate limited per client IP and require the shared
// key in the X-API-Key header. The limit check runs first, so a client
// without a key still spends its budget.
//
// The server sits beside the ingestion pipeline and only reads from the
// stores. It keeps working while the broker is down; /health then reports
// the listener as disconnected.
package api
