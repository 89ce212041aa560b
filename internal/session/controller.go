package session

import (
	"context"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/phase"
	"github.com/mdai-dev/kiosk/internal/watchdog"
)

// Publisher receives state events. *event.Bus implements it.
type Publisher interface {
	Publish(event.Event)
}

// Controller owns the current phase. Transitions are totally ordered.
type Controller struct {
	events Publisher
	logger *logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	phase     phase.Phase
	enteredAt time.Time
	seq       uint64
	last      event.Event
}

// NewController creates a Controller in the idle phase.
func NewController(events Publisher, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &Controller{
		events: events,
		logger: logger.WithComponent("phase"),
		now:    time.Now,
		phase:  phase.Idle,
	}
	c.enteredAt = c.now()
	c.last = event.NewState(phase.Idle, nil, "")
	return c
}

type advanceOptions struct {
	data        map[string]any
	errMsg      string
	minDuration time.Duration
}

// AdvanceOption configures one transition.
type AdvanceOption func(*advanceOptions)

// WithData attaches a display payload to the state event.
func WithData(data map[string]any) AdvanceOption {
	return func(o *advanceOptions) { o.data = data }
}

// WithError attaches a display error message to the state event.
func WithError(msg string) AdvanceOption {
	return func(o *advanceOptions) { o.errMsg = msg }
}

// WithMinDuration holds the outgoing phase until it has been shown for d.
func WithMinDuration(d time.Duration) AdvanceOption {
	return func(o *advanceOptions) { o.minDuration = d }
}

func applyAdvance(opts []AdvanceOption) advanceOptions {
	var o advanceOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Advance moves to p. With WithMinDuration it first waits until the current
// phase has been shown long enough; that wait is the only point where ctx is
// observed, and a cancelled wait leaves the phase unchanged.
func (c *Controller) Advance(ctx context.Context, p phase.Phase, opts ...AdvanceOption) error {
	o := applyAdvance(opts)
	if o.minDuration > 0 {
		if err := c.EnsureDuration(ctx, o.minDuration); err != nil {
			return err
		}
	}
	c.set(p, o.data, o.errMsg)
	return nil
}

// EnsureDuration waits until the current phase has been shown for at least
// d.
func (c *Controller) EnsureDuration(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	remaining := d - c.now().Sub(c.enteredAt)
	c.mu.Unlock()
	return sleep(ctx, remaining)
}

// set performs the transition and broadcasts it.
func (c *Controller) set(p phase.Phase, data map[string]any, errMsg string) {
	ev := event.NewState(p, data, errMsg)

	c.mu.Lock()
	prev := c.phase
	c.phase = p
	c.enteredAt = c.now()
	c.seq++
	c.last = ev
	c.mu.Unlock()

	c.logger.Info("phase transition", "from", prev.String(), "to", p.String())
	if c.events != nil {
		c.events.Publish(ev)
	}
}

// Phase returns the current phase.
func (c *Controller) Phase() phase.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Elapsed returns how long the current phase has been shown.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.enteredAt)
}

// Snapshot implements the read side of watchdog.Target.
func (c *Controller) Snapshot() watchdog.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return watchdog.Snapshot{Phase: c.phase, Seq: c.seq, EnteredAt: c.enteredAt}
}

// Resync rebroadcasts the last state event with a fresh timestamp. It does
// not count as a transition.
func (c *Controller) Resync() {
	c.mu.Lock()
	ev := c.last
	c.mu.Unlock()

	ev.Time = c.now()
	c.logger.Info("resyncing observers", "phase", ev.Phase.String())
	if c.events != nil {
		c.events.Publish(ev)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
