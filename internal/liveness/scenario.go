package liveness

// Scenario forces a failure category on the samples the selector sees. It
// is set through the debug app-ready endpoint to rehearse error screens on a
// real kiosk.
type Scenario struct {
	NoFace       bool `json:"simulate_no_face"`
	LostTracking bool `json:"simulate_lost_tracking"`
	LivenessFail bool `json:"simulate_liveness_fail"`
}

// Active reports whether any simulation is requested.
func (s Scenario) Active() bool {
	return s.NoFace || s.LostTracking || s.LivenessFail
}

// Name returns a short label for logs.
func (s Scenario) Name() string {
	switch {
	case s.NoFace:
		return "no_face"
	case s.LostTracking:
		return "lost_tracking"
	case s.LivenessFail:
		return "liveness_fail"
	default:
		return "none"
	}
}

// apply rewrites a batch. offset is the index of the batch's first sample
// within the run so lost tracking stays consistent across slices.
func (s Scenario) apply(batch []Sample, offset int) []Sample {
	if !s.Active() {
		return batch
	}
	out := make([]Sample, len(batch))
	for i, sample := range batch {
		switch {
		case s.NoFace:
			sample.FaceDetected = false
			sample.PassesLiveness = false
			sample.Stable = false
		case s.LostTracking:
			// Keep a face in one sample out of five.
			if (offset+i)%5 != 0 {
				sample.FaceDetected = false
				sample.PassesLiveness = false
				sample.Stable = false
			}
		case s.LivenessFail:
			sample.PassesLiveness = false
			sample.Stable = false
		}
		out[i] = sample
	}
	return out
}
