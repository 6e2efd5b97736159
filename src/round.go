package gateway

import "math"

// RoundTo4 rounds v to 4 decimal places (~11m of latitude), half away
// from zero, as used by the dedup key (§4.5) and duplicate check (§4.3).
func RoundTo4(v float64) float64 {
	const scale = 1e4

	scaled := v * scale
	if scaled >= 0 {
		return math.Floor(scaled+0.5) / scale
	}

	return math.Ceil(scaled-0.5) / scale
}
