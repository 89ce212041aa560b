package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/phase"
)

type fakeTarget struct {
	mu          sync.Mutex
	snap        Snapshot
	resyncs     int
	resets      int
	forced      int
	resetToIdle bool
}

func (f *fakeTarget) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeTarget) Resync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
}

func (f *fakeTarget) ResetSession(ctx context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	if f.resetToIdle {
		f.snap = Snapshot{Phase: phase.Idle, Seq: f.snap.Seq + 1, EnteredAt: f.snap.EnteredAt}
		return nil
	}
	return errors.New("session did not stop in time")
}

func (f *fakeTarget) ForceIdle(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
}

func (f *fakeTarget) enter(p phase.Phase, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = Snapshot{Phase: p, Seq: f.snap.Seq + 1, EnteredAt: at}
}

type fakeBridge struct {
	silent     time.Duration
	err        error
	reconnects int
}

func (b *fakeBridge) SilentFor() time.Duration { return b.silent }

func (b *fakeBridge) Reconnect(ctx context.Context) error {
	b.reconnects++
	return b.err
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

var testStart = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestMonitor(target *fakeTarget, bridge Bridge, events Publisher) (*Monitor, *time.Time) {
	cfg := Config{
		Interval:       2 * time.Second,
		BackendTimeout: 30 * time.Second,
		SoftActionCap:  2,
		Limits: map[phase.Phase]time.Duration{
			phase.ScanPrompt: 20 * time.Second,
			phase.QrDisplay:  180 * time.Second,
		},
	}
	m := New(target, bridge, events, cfg, nil)
	now := testStart
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMonitor_IdleAndWithinLimit(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.Idle, EnteredAt: testStart}}
	m, now := newTestMonitor(target, nil, nil)

	*now = testStart.Add(time.Hour)
	if got := m.Tick(context.Background()); got != ActionNone {
		t.Errorf("idle tick = %v, want none", got)
	}

	target.enter(phase.ScanPrompt, *now)
	*now = now.Add(19 * time.Second)
	if got := m.Tick(context.Background()); got != ActionNone {
		t.Errorf("within limit tick = %v", got)
	}

	// Phases without a limit are never escalated.
	target.enter(phase.HelloHuman, *now)
	*now = now.Add(time.Hour)
	if got := m.Tick(context.Background()); got != ActionNone {
		t.Errorf("unlimited phase tick = %v", got)
	}
}

func TestMonitor_Ladder(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.ScanPrompt, Seq: 1, EnteredAt: testStart}}
	events := &recorder{}
	m, now := newTestMonitor(target, nil, events)

	*now = testStart.Add(21 * time.Second)
	want := []Action{ActionResync, ActionResync, ActionReset, ActionForceIdle, ActionForceIdle}
	for i, w := range want {
		if got := m.Tick(context.Background()); got != w {
			t.Fatalf("tick %d = %v, want %v", i, got, w)
		}
		*now = now.Add(2 * time.Second)
	}

	if target.resyncs != 2 || target.resets != 1 || target.forced != 2 {
		t.Errorf("resyncs=%d resets=%d forced=%d", target.resyncs, target.resets, target.forced)
	}
	if len(events.events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events.events), len(want))
	}
	last := events.events[len(events.events)-1]
	if last.Type != event.TypeWatchdog || last.Data["action"] != string(ActionForceIdle) {
		t.Errorf("last event = %+v", last)
	}
	if events.events[2].Data["error"] == nil {
		t.Error("failed reset should be reported in the event")
	}
}

func TestMonitor_OneSoftActionPerTick(t *testing.T) {
	// Between 20s and 40s every tick takes exactly one soft action until the cap.
	target := &fakeTarget{snap: Snapshot{Phase: phase.ScanPrompt, Seq: 1, EnteredAt: testStart}}
	m, now := newTestMonitor(target, nil, nil)

	*now = testStart.Add(22 * time.Second)
	m.Tick(context.Background())
	if target.resyncs != 1 {
		t.Fatalf("resyncs after first tick = %d", target.resyncs)
	}
	*now = testStart.Add(24 * time.Second)
	m.Tick(context.Background())
	if target.resyncs != 2 || m.State().SoftActions != 2 {
		t.Fatalf("resyncs = %d, soft = %d", target.resyncs, m.State().SoftActions)
	}
	*now = testStart.Add(26 * time.Second)
	m.Tick(context.Background())
	if target.resyncs != 2 {
		t.Errorf("soft actions exceeded the cap: %d", target.resyncs)
	}
}

func TestMonitor_PhaseChangeResetsLadder(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.ScanPrompt, Seq: 1, EnteredAt: testStart}, resetToIdle: true}
	m, now := newTestMonitor(target, nil, nil)

	*now = testStart.Add(30 * time.Second)
	m.Tick(context.Background())
	m.Tick(context.Background())
	if got := m.Tick(context.Background()); got != ActionReset {
		t.Fatalf("third tick = %v, want reset", got)
	}

	// The reset moved the session to idle; the next tick starts over.
	if got := m.Tick(context.Background()); got != ActionNone {
		t.Errorf("tick after reset = %v, want none", got)
	}
	if st := m.State(); st.ResetAttempted || st.SoftActions != 0 || st.Phase != phase.Idle {
		t.Errorf("state not reset: %+v", st)
	}

	// Re-entering the same phase is a new phase instance.
	target.enter(phase.ScanPrompt, *now)
	*now = now.Add(21 * time.Second)
	if got := m.Tick(context.Background()); got != ActionResync {
		t.Errorf("tick in fresh phase = %v, want resync", got)
	}
}

func TestMonitor_BridgeReconnect(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.QrDisplay, Seq: 1, EnteredAt: testStart}}
	bridge := &fakeBridge{silent: 45 * time.Second}
	m, now := newTestMonitor(target, bridge, nil)

	*now = testStart.Add(181 * time.Second)
	if got := m.Tick(context.Background()); got != ActionReconnect {
		t.Fatalf("first tick = %v, want reconnect", got)
	}
	if !m.State().BridgeReconnectAttempted || m.State().SoftActions != 1 {
		t.Errorf("state = %+v", m.State())
	}

	// Reconnect is attempted once; the remaining soft budget goes to resync.
	if got := m.Tick(context.Background()); got != ActionResync {
		t.Errorf("second tick = %v, want resync", got)
	}
	if got := m.Tick(context.Background()); got != ActionReset {
		t.Errorf("third tick = %v, want reset", got)
	}
	if bridge.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", bridge.reconnects)
	}
}

func TestMonitor_FailedReconnectFallsThrough(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.QrDisplay, Seq: 1, EnteredAt: testStart}}
	bridge := &fakeBridge{silent: time.Minute, err: errors.New("refused")}
	m, now := newTestMonitor(target, bridge, nil)

	*now = testStart.Add(200 * time.Second)
	if got := m.Tick(context.Background()); got != ActionResync {
		t.Errorf("tick = %v, want resync after failed reconnect", got)
	}
	if bridge.reconnects != 1 {
		t.Errorf("reconnects = %d", bridge.reconnects)
	}
	m.Tick(context.Background())
	if bridge.reconnects != 1 {
		t.Error("reconnect must not be retried in the same phase")
	}
}

func TestMonitor_QuietBridgeNotReconnected(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.QrDisplay, Seq: 1, EnteredAt: testStart}}
	bridge := &fakeBridge{silent: 10 * time.Second}
	m, now := newTestMonitor(target, bridge, nil)

	*now = testStart.Add(200 * time.Second)
	if got := m.Tick(context.Background()); got != ActionResync {
		t.Errorf("tick = %v, want resync", got)
	}
	if bridge.reconnects != 0 {
		t.Error("bridge under the silence threshold should not be reconnected")
	}
}

func TestMonitor_RunStops(t *testing.T) {
	target := &fakeTarget{snap: Snapshot{Phase: phase.Idle}}
	m := New(target, nil, nil, Config{Interval: time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v", err)
	}
}
