package main

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

// defaultDevices are seeded when no --device is given.
var defaultDevices = []string{
	"VemCore-01",
	"VemCore-02",
	"SiteB-Gateway",
	"FactoryFloor-03",
	"Warehouse-Alpha",
}

// statuses weights "ok" heavily; "warn" and "error" are rare.
var statuses = func() []string {
	s := make([]string, 0, 20)
	for range 17 {
		s = append(s, "ok")
	}
	return append(s, "warn", "warn", "error")
}()

// payload is the device wire format. Field order is the order devices
// publish in; the signature covers the exact bytes.
type payload struct {
	DeviceID string         `json:"device_id"`
	TS       string         `json:"ts"`
	Sensors  ingest.Sensors `json:"sensors"`
	Seq      int64          `json:"seq"`
	Status   string         `json:"status"`
	Sig      string         `json:"sig"`
}

// factory builds plausible readings for one device with increasing
// sequence numbers.
type factory struct {
	deviceID string
	seq      int64
	rng      *rand.Rand
}

func newFactory(deviceID string, startSeq int64, rng *rand.Rand) *factory {
	return &factory{deviceID: deviceID, seq: startSeq, rng: rng}
}

// next returns the next payload, signed when secret is non-empty.
func (f *factory) next(at time.Time, secret string) ([]byte, error) {
	f.seq++

	temp := round(f.uniform(-5, 60), 2)
	humidity := round(f.uniform(20, 90), 2)
	vibration := round(f.uniform(0.001, 2), 4)

	raw, err := json.Marshal(payload{
		DeviceID: f.deviceID,
		TS:       at.UTC().Format(time.RFC3339Nano),
		Sensors: ingest.Sensors{
			TempC:        &temp,
			HumidityPct:  &humidity,
			VibrationRMS: &vibration,
		},
		Seq:    f.seq,
		Status: statuses[f.rng.IntN(len(statuses))],
	})
	if err != nil {
		return nil, err
	}

	if secret == "" {
		return raw, nil
	}
	return ingest.Sign(secret, raw)
}

func (f *factory) uniform(lo, hi float64) float64 {
	return lo + f.rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
