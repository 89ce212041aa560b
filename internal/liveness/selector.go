package liveness

import (
	"context"
	"time"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/logging"
)

// Defaults used when a Config field is zero.
const (
	DefaultSlice        = 500 * time.Millisecond
	DefaultMinFaceRatio = 0.3
)

// Config controls a Selector.
type Config struct {
	// Slice is the duration requested from the collector per batch.
	Slice time.Duration
	// MinFaceRatio is the fraction of samples that must contain a face.
	MinFaceRatio float64
	Scoring      Scoring
	// MetricsInterval throttles the metrics callback. Zero reports every
	// sample.
	MetricsInterval time.Duration
	// SaveDebugFrames persists every sample, not only the best one.
	SaveDebugFrames bool
}

// Request describes one selection run.
type Request struct {
	Duration   time.Duration
	MinPassing int
	Scenario   Scenario
	// Label names the persisted frames, usually the platform id.
	Label string
}

// Result is a successful selection.
type Result struct {
	Best  Sample
	Score float64
	Focus float64

	Total   int
	Faces   int
	Passing int
	Batches int
	Elapsed time.Duration
}

// Diagnostics returns the run summary for events and logs.
func (r *Result) Diagnostics() map[string]any {
	return map[string]any{
		"total":     r.Total,
		"faces":     r.Faces,
		"passing":   r.Passing,
		"batches":   r.Batches,
		"score":     r.Score,
		"focus":     r.Focus,
		"stability": r.Best.QualityScore,
	}
}

// MetricsFunc receives per-sample scoring data while a run is in progress.
type MetricsFunc func(data map[string]any)

// Selector runs time-boxed best-frame selection.
type Selector struct {
	collector Collector
	cfg       Config
	store     FrameStore
	logger    *logging.Logger
	now       func() time.Time
}

// NewSelector creates a Selector. store may be nil.
func NewSelector(collector Collector, cfg Config, store FrameStore, logger *logging.Logger) *Selector {
	if cfg.Slice <= 0 {
		cfg.Slice = DefaultSlice
	}
	if cfg.MinFaceRatio <= 0 {
		cfg.MinFaceRatio = DefaultMinFaceRatio
	}
	if cfg.Scoring == (Scoring{}) {
		cfg.Scoring = DefaultScoring()
	}
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Selector{
		collector: collector,
		cfg:       cfg,
		store:     store,
		logger:    logger.WithComponent("selector"),
		now:       time.Now,
	}
}

// Collect pulls batches from the collector until the requested slices add
// up to req.Duration, then returns the highest-scoring passing sample.
//
// Failures are *errors.FlowError values wrapping ErrNoFace, ErrLostTracking
// or ErrValidationFailed. Cancellation of ctx returns ctx.Err().
func (s *Selector) Collect(ctx context.Context, req Request, metrics MetricsFunc) (*Result, error) {
	res := &Result{}
	var (
		elapsed     time.Duration
		hasBest     bool
		lastMetrics time.Time
	)

	if req.Scenario.Active() {
		s.logger.Info("simulating selection failure", "scenario", req.Scenario.Name())
	}

	for elapsed < req.Duration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slice := min(s.cfg.Slice, req.Duration-elapsed)
		batch, err := s.collector.GatherResults(ctx, slice)
		elapsed += slice
		res.Batches++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("gather results failed", "error", err, "elapsed", elapsed.String())
			continue
		}
		batch = req.Scenario.apply(batch, res.Total)

		for _, sample := range batch {
			index := res.Total
			res.Total++
			if s.cfg.SaveDebugFrames {
				s.store.SaveDebug(req.Label, index, sample)
			}
			if sample.FaceDetected {
				res.Faces++
			}
			if !sample.PassesLiveness {
				continue
			}
			res.Passing++

			focus := s.focus(sample)
			score := s.cfg.Scoring.Composite(sample.QualityScore, focus, sample.Stable)
			if !hasBest || score > res.Score {
				hasBest = true
				res.Best = sample
				res.Score = score
				res.Focus = focus
			}

			if metrics != nil {
				now := s.now()
				if lastMetrics.IsZero() || now.Sub(lastMetrics) >= s.cfg.MetricsInterval {
					lastMetrics = now
					metrics(map[string]any{
						"stability":       sample.QualityScore,
						"focus":           focus,
						"composite":       score,
						"passes_liveness": sample.PassesLiveness,
						"stable_alive":    sample.Stable,
					})
				}
			}
		}
	}
	res.Elapsed = elapsed

	s.logger.Info("frame collection complete",
		"total", res.Total, "faces", res.Faces, "passing", res.Passing,
		"best_score", res.Score, "batches", res.Batches)

	if err := s.judge(res, req.MinPassing, hasBest); err != nil {
		return nil, err
	}
	s.store.SaveBest(req.Label, res)
	return res, nil
}

func (s *Selector) judge(res *Result, minPassing int, hasBest bool) error {
	switch {
	case res.Faces == 0:
		cause := errors.ErrNoFace
		if res.Total == 0 {
			cause = errors.Join(errors.ErrNoFace, errors.ErrNoSamples)
		}
		return errors.NewFlowError(errors.ErrNoFace.Error(), cause)
	case float64(res.Faces) < s.cfg.MinFaceRatio*float64(res.Total):
		return errors.NewFlowError(errors.ErrLostTracking.Error(), errors.ErrLostTracking)
	case res.Passing < minPassing || !hasBest:
		return errors.NewFlowError(errors.ErrValidationFailed.Error(), errors.ErrValidationFailed)
	}
	return nil
}

// focus returns the sample's sharpness, computing it when the collector did
// not supply one.
func (s *Selector) focus(sample Sample) float64 {
	if sample.Focus > 0 {
		return sample.Focus
	}
	img, err := sample.decode()
	if err != nil {
		s.logger.Debug("focus metric unavailable", "error", err)
		return 0
	}
	return Sharpness(img)
}
