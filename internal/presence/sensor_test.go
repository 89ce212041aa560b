package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mdai-dev/kiosk/internal/hardware"
)

type scriptedDistance struct {
	mu       sync.Mutex
	readings []int // negative means no reading
}

func (s *scriptedDistance) Distance(ctx context.Context) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readings) == 0 {
		return 0, false
	}
	mm := s.readings[0]
	s.readings = s.readings[1:]
	if mm < 0 {
		return 0, false
	}
	return mm, true
}

type staticMode struct {
	mu   sync.Mutex
	mode hardware.Mode
}

func (m *staticMode) Mode() hardware.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *staticMode) set(mode hardware.Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

type toggle struct {
	triggered bool
	mm        int
}

func newTestSensor(readings []int, modes ModeSource) (*Sensor, *[]toggle, *time.Time) {
	cfg := SensorConfig{
		ThresholdMM: 500,
		Debounce:    1500 * time.Millisecond,
		IdlePoll:    200 * time.Millisecond,
		ActivePoll:  100 * time.Millisecond,
	}
	s := NewSensor(cfg, &scriptedDistance{readings: readings}, modes, nil)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	var got []toggle
	s.OnTrigger(func(triggered bool, mm int) {
		got = append(got, toggle{triggered, mm})
	})
	return s, &got, &now
}

func TestSensor_ThresholdAndDebounce(t *testing.T) {
	s, got, now := newTestSensor([]int{900, 400, 420, 700, 650, 800}, nil)
	ctx := context.Background()

	s.Poll(ctx) // 900: already not triggered
	s.Poll(ctx) // 400: first toggle, no previous toggle to debounce
	*now = now.Add(time.Second)
	s.Poll(ctx) // 420: same state
	s.Poll(ctx) // 700: inside debounce window
	*now = now.Add(600 * time.Millisecond)
	s.Poll(ctx) // 650: debounce elapsed

	want := []toggle{{true, 400}, {false, 650}}
	if len(*got) != len(want) {
		t.Fatalf("toggles = %v, want %v", *got, want)
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Errorf("toggle[%d] = %v, want %v", i, (*got)[i], want[i])
		}
	}
	if s.Triggered() {
		t.Error("Triggered() should be false")
	}
	if s.LastDistance() != 650 {
		t.Errorf("LastDistance() = %d", s.LastDistance())
	}
}

func TestSensor_SkipsMissingReadings(t *testing.T) {
	s, got, _ := newTestSensor([]int{-1, -1, 300}, nil)
	ctx := context.Background()

	if s.Poll(ctx) || s.Poll(ctx) {
		t.Error("missing readings must not emit")
	}
	if !s.Poll(ctx) {
		t.Error("valid reading under threshold should emit")
	}
	if len(*got) != 1 {
		t.Errorf("toggles = %v", *got)
	}
}

func TestSensor_SuppressedInValidationMode(t *testing.T) {
	modes := &staticMode{mode: hardware.ModeValidation}
	s, got, now := newTestSensor([]int{300, 300}, modes)
	ctx := context.Background()

	s.Poll(ctx)
	if len(*got) != 0 || s.Triggered() {
		t.Fatalf("toggle emitted in validation mode: %v", *got)
	}

	modes.set(hardware.ModeActive)
	*now = now.Add(10 * time.Millisecond)
	s.Poll(ctx)
	if len(*got) != 1 || !(*got)[0].triggered {
		t.Errorf("held-back toggle should emit once presence is enabled, got %v", *got)
	}
}

func TestSensor_PollIntervalFollowsMode(t *testing.T) {
	modes := &staticMode{mode: hardware.ModeIdleDetection}
	s, _, _ := newTestSensor(nil, modes)

	if got := s.interval(); got != 200*time.Millisecond {
		t.Errorf("idle interval = %v", got)
	}
	modes.set(hardware.ModeActive)
	if got := s.interval(); got != 100*time.Millisecond {
		t.Errorf("active interval = %v", got)
	}
}

func TestSensor_CallbackPanicRecovered(t *testing.T) {
	s, got, _ := newTestSensor([]int{100}, nil)
	s.OnTrigger(func(bool, int) { panic("boom") })

	s.Poll(context.Background())
	if len(*got) != 1 {
		t.Error("first callback should still run")
	}
}

func TestSensor_RunStopsOnCancel(t *testing.T) {
	s := NewSensor(SensorConfig{ThresholdMM: 500, IdlePoll: time.Millisecond}, DistanceFunc(func(context.Context) (int, bool) {
		return 100, true
	}), nil, nil)

	fired := make(chan struct{}, 1)
	s.OnTrigger(func(bool, int) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("sensor never emitted")
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
