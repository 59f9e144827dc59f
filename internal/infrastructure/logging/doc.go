// Package logging provides structured logging for Nexlytix Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the ingestion pipeline and API.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("reading stored", "device_id", id, "seq", seq)
//	logger.Error("store write failed", "error", err)
//
// # Security
//
// Never log the HMAC secret, the API key or the InfluxDB token. Rejected
// signatures are logged by device only, never by value.
package logging
