package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestFactoryProducesAcceptableReadings(t *testing.T) {
	const secret = "seed-secret"
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	guard := ingest.NewReplayGuard(1)
	verifier := ingest.NewVerifier(secret, ingest.SignatureRequired)
	f := newFactory("VemCore-01", 100, testRNG())

	for i := range 50 {
		raw, err := f.next(at, secret)
		if err != nil {
			t.Fatalf("next() error = %v", err)
		}

		r, err := ingest.Decode(raw, at)
		if err != nil {
			t.Fatalf("message %d: Decode() error = %v", i, err)
		}
		if err := ingest.ValidateDeviceID(r.DeviceID); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if err := verifier.Verify(raw, r.Signature); err != nil {
			t.Fatalf("message %d: Verify() error = %v", i, err)
		}
		if _, ok := guard.Accept(r.DeviceID, r.Sequence); !ok {
			t.Fatalf("message %d: seq %d not accepted", i, r.Sequence)
		}
		if err := ingest.ValidateRanges(r.Sensors); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if !r.Timestamp.Equal(at) {
			t.Errorf("message %d: timestamp = %v, want %v", i, r.Timestamp, at)
		}
	}

	if last, _ := guard.Last("VemCore-01"); last != 150 {
		t.Errorf("last seq = %d, want 150", last)
	}
}

func TestFactoryUnsigned(t *testing.T) {
	f := newFactory("dev-1", 0, testRNG())

	raw, err := f.next(time.Now(), "")
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	r, err := ingest.Decode(raw, time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if r.Signature != "" {
		t.Errorf("Signature = %q, want empty", r.Signature)
	}
	if err := ingest.NewVerifier("", ingest.SignatureOptional).Verify(raw, r.Signature); err != nil {
		t.Errorf("optional Verify() error = %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("NEXLYTIX_CONFIG", "")

	opts, err := parseFlags([]string{"-d", "a", "-d", "b", "-n", "3", "--delay", "1s", "--start-seq", "7"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(opts.devices) != 2 || opts.count != 3 || opts.delay != time.Second || opts.startSeq != 7 {
		t.Errorf("opts = %+v", opts)
	}

	opts, err = parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(opts.devices) != len(defaultDevices) {
		t.Errorf("default devices = %v", opts.devices)
	}

	if _, err := parseFlags([]string{"--count", "0"}); err == nil {
		t.Error("parseFlags(--count 0) should fail")
	}
}
