package ingest

import (
	"fmt"
	"math"
	"strings"
)

// Bound is a closed interval of physically plausible values.
type Bound struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the bound. NaN is never contained.
func (b Bound) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= b.Min && v <= b.Max
}

// Physical bounds for each sensor field.
var (
	TempCBound        = Bound{Min: -50, Max: 100}
	HumidityPctBound  = Bound{Min: 0, Max: 100}
	VibrationRMSBound = Bound{Min: 0, Max: 10}
)

// ValidateRanges checks every reported sensor value against its bound.
// Unreported fields are skipped. If any value is out of range the whole
// reading is rejected; the error names every offending field.
func ValidateRanges(s Sensors) error {
	var bad []string

	check := func(name string, v *float64, b Bound) {
		if v != nil && !b.Contains(*v) {
			bad = append(bad, fmt.Sprintf("%s=%g not in [%g, %g]", name, *v, b.Min, b.Max))
		}
	}
	check("temp_c", s.TempC, TempCBound)
	check("humidity_pct", s.HumidityPct, HumidityPctBound)
	check("vibration_rms", s.VibrationRMS, VibrationRMSBound)

	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrRange, strings.Join(bad, ", "))
	}
	return nil
}

// Values returns the sensor values with unreported fields set to 0, the
// shape stores with non-null schemas expect.
func (s Sensors) Values() (tempC, humidityPct, vibrationRMS float64) {
	return deref(s.TempC), deref(s.HumidityPct), deref(s.VibrationRMS)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
