package presence

import (
	"context"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/logging"
)

// DistanceProvider returns the latest distance reading in millimetres.
// ok is false when no fresh reading is available.
type DistanceProvider interface {
	Distance(ctx context.Context) (mm int, ok bool)
}

// DistanceFunc adapts a function to DistanceProvider.
type DistanceFunc func(ctx context.Context) (int, bool)

// Distance implements DistanceProvider.
func (f DistanceFunc) Distance(ctx context.Context) (int, bool) { return f(ctx) }

// ModeSource reports the camera's operational mode. *hardware.Arbiter
// implements it.
type ModeSource interface {
	Mode() hardware.Mode
}

// Callback receives debounced presence toggles.
type Callback func(triggered bool, distanceMM int)

// SensorConfig controls thresholding and polling.
type SensorConfig struct {
	ThresholdMM int
	Debounce    time.Duration
	IdlePoll    time.Duration
	ActivePoll  time.Duration
}

// Sensor polls a DistanceProvider and emits a toggle whenever the
// thresholded state changes, at most once per Debounce interval.
//
// While the mode source reports a mode with presence disabled, toggles are
// held back: the state is left unchanged so the change is emitted once
// presence is enabled again.
type Sensor struct {
	cfg      SensorConfig
	provider DistanceProvider
	modes    ModeSource
	logger   *logging.Logger
	now      func() time.Time

	mu         sync.Mutex
	callbacks  []Callback
	triggered  bool
	lastToggle time.Time
	lastMM     int
}

// NewSensor creates a Sensor. modes may be nil, in which case the idle poll
// interval is used and emission is never suppressed.
func NewSensor(cfg SensorConfig, provider DistanceProvider, modes ModeSource, logger *logging.Logger) *Sensor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sensor{
		cfg:      cfg,
		provider: provider,
		modes:    modes,
		logger:   logger.WithComponent("tof"),
		now:      time.Now,
	}
}

// OnTrigger registers a callback for presence toggles.
func (s *Sensor) OnTrigger(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Run polls until ctx is done.
func (s *Sensor) Run(ctx context.Context) error {
	s.logger.Info("tof sensor active",
		"threshold_mm", s.cfg.ThresholdMM, "debounce", s.cfg.Debounce.String())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		s.Poll(ctx)
		timer.Reset(s.interval())
	}
}

// Poll takes one reading and emits a toggle if warranted. It reports whether
// a toggle was emitted.
func (s *Sensor) Poll(ctx context.Context) bool {
	mm, ok := s.provider.Distance(ctx)
	if !ok {
		return false
	}

	triggered := mm < s.cfg.ThresholdMM
	now := s.now()

	s.mu.Lock()
	s.lastMM = mm
	if triggered == s.triggered {
		s.mu.Unlock()
		return false
	}
	if !s.lastToggle.IsZero() && now.Sub(s.lastToggle) < s.cfg.Debounce {
		s.mu.Unlock()
		return false
	}
	if s.modes != nil && !s.modes.Mode().PresenceEnabled() {
		s.mu.Unlock()
		return false
	}
	s.triggered = triggered
	s.lastToggle = now
	callbacks := make([]Callback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	s.logger.Debug("presence toggled", "triggered", triggered, "distance_mm", mm)
	for _, cb := range callbacks {
		s.emit(cb, triggered, mm)
	}
	return true
}

func (s *Sensor) emit(cb Callback, triggered bool, mm int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("presence callback panicked", "panic", r)
		}
	}()
	cb(triggered, mm)
}

func (s *Sensor) interval() time.Duration {
	if s.modes != nil && s.modes.Mode() != hardware.ModeIdleDetection && s.cfg.ActivePoll > 0 {
		return s.cfg.ActivePoll
	}
	if s.cfg.IdlePoll > 0 {
		return s.cfg.IdlePoll
	}
	return 100 * time.Millisecond
}

// Triggered returns the current debounced state.
func (s *Sensor) Triggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// LastDistance returns the most recent raw reading.
func (s *Sensor) LastDistance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMM
}
