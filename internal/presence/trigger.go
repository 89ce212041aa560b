package presence

import (
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/phase"
)

// Host is the session side of the trigger.
type Host interface {
	// Phase returns the current session phase.
	Phase() phase.Phase
	// ScheduleSession starts a session unless one is already running.
	// It reports whether a new session was started.
	ScheduleSession() bool
	// CancelSession cancels the running session, if any.
	CancelSession(reason string)
}

// Timer is the subset of *time.Timer the trigger needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Trigger converts presence toggles into session start and cancel
// decisions. At most one grace countdown is outstanding at a time.
type Trigger struct {
	host      Host
	grace     time.Duration
	logger    *logging.Logger
	afterFunc AfterFunc
	now       func() time.Time

	mu        sync.Mutex
	lostSince *time.Time
	countdown Timer
	// generation invalidates countdowns that fire after being stopped.
	generation uint64
	cancels    uint64
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithClock replaces the timer factory and time source. Tests use it to run
// countdowns deterministically.
func WithClock(after AfterFunc, now func() time.Time) TriggerOption {
	return func(t *Trigger) {
		if after != nil {
			t.afterFunc = after
		}
		if now != nil {
			t.now = now
		}
	}
}

// NewTrigger creates a Trigger that cancels a session once presence has been
// lost for grace.
func NewTrigger(host Host, grace time.Duration, logger *logging.Logger, opts ...TriggerOption) *Trigger {
	if logger == nil {
		logger = logging.NopLogger()
	}
	t := &Trigger{
		host:      host,
		grace:     grace,
		logger:    logger.WithComponent("presence"),
		afterFunc: realAfterFunc,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle processes one presence toggle.
func (t *Trigger) Handle(present bool) {
	p := t.host.Phase()

	switch {
	case p == phase.Idle:
		t.Reset()
		if present {
			if t.host.ScheduleSession() {
				t.logger.Info("presence detected, session scheduled")
			} else {
				t.logger.Debug("presence detected, session already running")
			}
		}
	case p.IsTerminal():
		// Session is already ending.
	case p.IsCapture():
		// Frame selection owns presence semantics here.
	case present:
		t.restore(p)
	default:
		t.arm(p)
	}
}

func (t *Trigger) arm(p phase.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.countdown != nil {
		return
	}
	now := t.now()
	t.lostSince = &now
	t.generation++
	gen := t.generation
	t.countdown = t.afterFunc(t.grace, func() { t.expire(gen) })

	t.logger.Info("presence lost, grace countdown started",
		"phase", p.String(), "grace", t.grace.String())
}

func (t *Trigger) restore(p phase.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.countdown == nil {
		return
	}
	var away time.Duration
	if t.lostSince != nil {
		away = t.now().Sub(*t.lostSince)
	}
	t.stopLocked()
	t.logger.Info("presence restored, grace countdown cancelled",
		"phase", p.String(), "away", away.String())
}

func (t *Trigger) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.countdown == nil {
		t.mu.Unlock()
		return
	}
	t.countdown = nil
	t.lostSince = nil
	t.mu.Unlock()

	// The session may have moved on while the countdown ran. Capture phases
	// own presence and an ending session needs no cancel.
	if p := t.host.Phase(); p == phase.Idle || p.IsCapture() || p.IsTerminal() {
		t.logger.Info("grace period elapsed outside a cancellable phase, ignoring",
			"phase", p.String())
		return
	}

	t.mu.Lock()
	t.cancels++
	t.mu.Unlock()

	t.logger.Info("grace period elapsed, cancelling session")
	t.host.CancelSession("presence lost")
}

func (t *Trigger) stopLocked() {
	if t.countdown != nil {
		t.countdown.Stop()
	}
	t.countdown = nil
	t.lostSince = nil
	t.generation++
}

// Reset drops any outstanding countdown. The orchestrator calls it during
// session cleanup.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// LostSince returns when presence was lost, if a countdown is running.
func (t *Trigger) LostSince() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lostSince == nil {
		return time.Time{}, false
	}
	return *t.lostSince, true
}

// Pending reports whether a grace countdown is outstanding.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countdown != nil
}

// Cancellations returns how many countdowns have expired.
func (t *Trigger) Cancellations() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancels
}
