package liveness

// Scoring weights the composite score of a passing sample.
type Scoring struct {
	// FocusNormalization divides raw sharpness before clamping to 1.
	FocusNormalization float64
	StabilityWeight    float64
	FocusWeight        float64
	// StableBonus is added for samples whose verdict was stable.
	StableBonus float64
}

// DefaultScoring returns the production weights.
func DefaultScoring() Scoring {
	return Scoring{
		FocusNormalization: 800,
		StabilityWeight:    0.7,
		FocusWeight:        0.3,
		StableBonus:        0.05,
	}
}

// Composite blends stability and normalized focus.
func (s Scoring) Composite(stability, focus float64, stable bool) float64 {
	norm := 0.0
	if s.FocusNormalization > 0 {
		norm = min(focus/s.FocusNormalization, 1)
	}
	score := stability*s.StabilityWeight + norm*s.FocusWeight
	if stable {
		score += s.StableBonus
	}
	return score
}
