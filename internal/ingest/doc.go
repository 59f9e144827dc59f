// Package ingest is the telemetry ingestion security pipeline.
//
// Every payload received from the broker passes through, in order:
//
//	Decode → ValidateDeviceID → Verifier.Verify → ReplayGuard.Accept → ValidateRanges → Writer
//
// The first stage that fails drops the message. Nothing is retried and
// nothing is returned to the device; the rejection is logged, counted and
// optionally recorded, and processing moves on to the next message.
//
// # Rejection taxonomy
//
//	ErrDecode     malformed payload           error level
//	ErrIdentity   bad device identifier       warn level
//	ErrIntegrity  signature mismatch/missing  warn level
//	ErrReplay     non-increasing sequence     warn level
//	ErrRange      sensor value out of bounds  warn level
//	ErrStore      store write failed          error level
//
// # Concurrency
//
// Pipeline.Handle may be called from many goroutines. The only shared
// mutable state is the ReplayGuard, which serialises access per device
// through striped locks. A replayed or out-of-order sequence is rejected
// deterministically no matter how messages interleave.
//
// A sequence number is consumed as soon as the replay check passes, so a
// reading rejected afterwards for range or store reasons cannot be
// resubmitted under the same sequence.
//
// # Lifecycle
//
// Listener owns the broker session and runs until its context is
// cancelled; see Listener for the reconnect policy.
package ingest
