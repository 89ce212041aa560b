// Package watchdog detects session phases that overrun their time budget and
// walks them down a recovery ladder:
//
//  1. reconnect the bridge, if it has been silent too long (once per phase)
//  2. resync observers by rebroadcasting the phase (up to a small cap)
//  3. reset the session (once per phase)
//  4. force the kiosk to idle (repeatable)
//
// Ladder state is keyed to the phase instance, so a phase change starts the
// ladder over.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/phase"
)

// Action is what a tick did.
type Action string

const (
	ActionNone      Action = "none"
	ActionReconnect Action = "bridge_reconnect"
	ActionResync    Action = "resync"
	ActionReset     Action = "session_reset"
	ActionForceIdle Action = "force_idle"
)

// Snapshot is a consistent view of the session taken once per tick.
type Snapshot struct {
	Phase phase.Phase
	// Seq increments on every phase transition, including re-entry of the
	// same phase.
	Seq       uint64
	EnteredAt time.Time
}

// Target is the session side the watchdog acts on.
type Target interface {
	Snapshot() Snapshot
	// Resync rebroadcasts the current phase payload.
	Resync()
	// ResetSession cancels the running session and waits a bounded time
	// for it to reach idle.
	ResetSession(ctx context.Context, reason string) error
	// ForceIdle drops to idle unconditionally.
	ForceIdle(reason string)
}

// Bridge is the bridge side the watchdog can poke.
type Bridge interface {
	SilentFor() time.Duration
	Reconnect(ctx context.Context) error
}

// Publisher receives diagnostic events. *event.Bus implements it.
type Publisher interface {
	Publish(event.Event)
}

// Config controls the monitor.
type Config struct {
	Interval       time.Duration
	BackendTimeout time.Duration
	SoftActionCap  int
	Limits         map[phase.Phase]time.Duration
}

// State is the ladder position for the current phase.
type State struct {
	Phase                    phase.Phase
	Seq                      uint64
	SoftActions              int
	BridgeReconnectAttempted bool
	ResetAttempted           bool
}

// Monitor runs the recovery ladder on a fixed tick.
type Monitor struct {
	target Target
	bridge Bridge
	events Publisher
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	// mu serializes ticks and guards state.
	mu    sync.Mutex
	state State
}

// New creates a Monitor. bridge and events may be nil.
func New(target Target, bridge Bridge, events Publisher, cfg Config, logger *logging.Logger) *Monitor {
	if target == nil {
		panic("watchdog: target must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		target: target,
		bridge: bridge,
		events: events,
		cfg:    cfg,
		logger: logger.WithComponent("watchdog"),
		now:    time.Now,
	}
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates the current phase once and performs at most one recovery
// action.
func (m *Monitor) Tick(ctx context.Context) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.target.Snapshot()
	if snap.Phase != m.state.Phase || snap.Seq != m.state.Seq {
		m.state = State{Phase: snap.Phase, Seq: snap.Seq}
	}
	if snap.Phase == phase.Idle {
		return ActionNone
	}
	limit, ok := m.cfg.Limits[snap.Phase]
	if !ok || limit <= 0 {
		return ActionNone
	}
	elapsed := m.now().Sub(snap.EnteredAt)
	if elapsed <= limit {
		return ActionNone
	}

	log := m.logger.WithPhase(snap.Phase.String()).With(
		"elapsed", elapsed.Round(time.Millisecond).String(), "limit", limit.String())

	if m.bridge != nil && !m.state.BridgeReconnectAttempted {
		if silent := m.bridge.SilentFor(); silent > m.cfg.BackendTimeout {
			m.state.BridgeReconnectAttempted = true
			log.Warn("phase overran with silent bridge, reconnecting", "silent", silent.String())
			err := m.bridge.Reconnect(ctx)
			if err == nil {
				m.state.SoftActions++
				m.publish(snap, ActionReconnect, elapsed, limit, nil)
				return ActionReconnect
			}
			log.Error("bridge reconnect failed", "error", err)
		}
	}

	if m.state.SoftActions < m.cfg.SoftActionCap {
		m.state.SoftActions++
		log.Warn("phase overran, resyncing observers", "soft_actions", m.state.SoftActions)
		m.target.Resync()
		m.publish(snap, ActionResync, elapsed, limit, nil)
		return ActionResync
	}

	if !m.state.ResetAttempted {
		m.state.ResetAttempted = true
		log.Error("phase stuck, resetting session")
		err := m.target.ResetSession(ctx, "watchdog: "+snap.Phase.String()+" overran")
		m.publish(snap, ActionReset, elapsed, limit, err)
		return ActionReset
	}

	log.Error("phase still stuck after reset, forcing idle")
	m.target.ForceIdle("watchdog: " + snap.Phase.String() + " stuck after reset")
	m.publish(snap, ActionForceIdle, elapsed, limit, nil)
	return ActionForceIdle
}

func (m *Monitor) publish(snap Snapshot, action Action, elapsed, limit time.Duration, err error) {
	if m.events == nil {
		return
	}
	data := map[string]any{
		"stuck_phase":  snap.Phase.String(),
		"elapsed_ms":   elapsed.Milliseconds(),
		"limit_ms":     limit.Milliseconds(),
		"soft_actions": m.state.SoftActions,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	m.events.Publish(event.NewWatchdog(snap.Phase, string(action), data))
}

// State returns the ladder position.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
