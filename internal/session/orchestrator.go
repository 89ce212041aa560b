package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdai-dev/kiosk/internal/bridge"
	"github.com/mdai-dev/kiosk/internal/config"
	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/event"
	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/history"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/phase"
	"github.com/mdai-dev/kiosk/internal/presence"
	"github.com/mdai-dev/kiosk/internal/watchdog"
	"github.com/mdai-dev/kiosk/internal/worker"
)

// Hardware is the part of *hardware.Arbiter a session drives.
type Hardware interface {
	Request(ctx context.Context, id hardware.RequesterID, active bool) error
	SetMode(m hardware.Mode)
	Active() bool
}

// Bridge is the part of *bridge.Proxy a session drives.
type Bridge interface {
	IssueToken(ctx context.Context) (bridge.Token, error)
	QRPayload(token string) bridge.QRPayload
	Connect(ctx context.Context, token string, handler bridge.Handler) error
	Send(ctx context.Context, payload any) error
	Disconnect()
}

// Selector is the part of *liveness.Selector a session drives.
type Selector interface {
	Collect(ctx context.Context, req liveness.Request, metrics liveness.MetricsFunc) (*liveness.Result, error)
}

// Deps are the collaborators of an Orchestrator. History may be nil.
type Deps struct {
	Hardware Hardware
	Bridge   Bridge
	Selector Selector
	History  history.Recorder
	Events   Publisher
	Pool     *worker.Pool
}

// errDetached is returned to a session that was abandoned by ForceIdle. It
// classifies as a cancellation.
var errDetached = fmt.Errorf("session detached: %w", context.Canceled)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithTriggerOptions passes options to the presence trigger.
func WithTriggerOptions(opts ...presence.TriggerOption) Option {
	return func(o *Orchestrator) {
		o.triggerOpts = append(o.triggerOpts, opts...)
	}
}

// Orchestrator runs at most one session at a time.
type Orchestrator struct {
	cfg      *config.Config
	ctrl     *Controller
	hw       Hardware
	bridge   Bridge
	selector Selector
	history  history.Recorder
	events   Publisher
	pool     *worker.Pool
	trigger  *presence.Trigger
	logger   *logging.Logger

	newID       func() string
	now         func() time.Time
	triggerOpts []presence.TriggerOption

	mu      sync.Mutex
	base    context.Context
	running bool
	// gen identifies the session allowed to move the phase. ForceIdle bumps
	// it to detach a session that will not stop.
	gen          uint64
	sess         *Context
	cancel       context.CancelCauseFunc
	done         chan struct{}
	lastDistance int
}

// New creates an Orchestrator in the idle phase.
func New(cfg *config.Config, deps Deps, logger *logging.Logger, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Hardware == nil || deps.Bridge == nil || deps.Selector == nil {
		panic("session.New: hardware, bridge and selector are required")
	}
	if deps.Pool == nil {
		panic("session.New: pool must not be nil")
	}
	if deps.History == nil {
		deps.History = history.NopRecorder{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	o := &Orchestrator{
		cfg:      cfg,
		ctrl:     NewController(deps.Events, logger),
		hw:       deps.Hardware,
		bridge:   deps.Bridge,
		selector: deps.Selector,
		history:  deps.History,
		events:   deps.Events,
		pool:     deps.Pool,
		logger:   logger.WithComponent("session"),
		newID:    uuid.NewString,
		now:      time.Now,
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.trigger = presence.NewTrigger(o, cfg.Presence.GracePeriod(), logger, o.triggerOpts...)
	return o
}

// Controller returns the phase controller.
func (o *Orchestrator) Controller() *Controller { return o.ctrl }

// Trigger returns the presence trigger fed by OnPresence.
func (o *Orchestrator) Trigger() *presence.Trigger { return o.trigger }

// Phase implements presence.Host.
func (o *Orchestrator) Phase() phase.Phase { return o.ctrl.Phase() }

// Run publishes heartbeats until ctx is done, then cancels any running
// session and waits a bounded time for it to clean up. Sessions scheduled
// after Run starts inherit ctx.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.base = ctx
	o.mu.Unlock()

	var tick <-chan time.Time
	if interval := o.cfg.Events.HeartbeatInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-tick:
			o.publish(event.NewHeartbeat(o.ctrl.Phase()))
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel(errors.New("shutdown"))

	t := time.NewTimer(o.cfg.Watchdog.CancelTimeout())
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		o.logger.Warn("session did not stop before shutdown timeout")
	}
}

// ScheduleSession implements presence.Host. It starts a session unless one
// is already running.
func (o *Orchestrator) ScheduleSession() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Debug("session already in progress, ignoring trigger")
		return false
	}

	o.gen++
	ctx, cancel := context.WithCancelCause(o.base)
	sess := newContext(o.newID(), o.now())
	sess.distanceMM = o.lastDistance
	done := make(chan struct{})

	o.running = true
	o.sess = sess
	o.cancel = cancel
	o.done = done

	r := &run{
		o:      o,
		gen:    o.gen,
		sess:   sess,
		logger: o.logger.WithSession(sess.ID),
	}
	go r.execute(ctx, done)

	o.logger.Info("session scheduled", "session_id", sess.ID)
	return true
}

// CancelSession implements presence.Host. Cancellation is a normal exit:
// the session skips the error phase and returns to idle.
func (o *Orchestrator) CancelSession(reason string) {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	o.logger.Info("cancelling session", "reason", reason)
	cancel(errors.New(reason))
}

// ResetSession cancels the running session and waits up to the configured
// cancel timeout for it to finish cleanup. If it does not, the kiosk is
// forced to idle and a TimeoutError is returned.
func (o *Orchestrator) ResetSession(ctx context.Context, reason string) error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if cancel == nil {
		if o.ctrl.Phase() != phase.Idle {
			o.ForceIdle(reason)
		}
		return nil
	}

	o.logger.Warn("resetting session", "reason", reason)
	cancel(errors.New(reason))

	timeout := o.cfg.Watchdog.CancelTimeout()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		o.ForceIdle(reason)
		return errors.NewTimeoutError("session_reset", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceIdle drops to idle without waiting for the running session. The
// session is detached: it can no longer change the phase, and releases only
// its own hardware references when it finally exits.
func (o *Orchestrator) ForceIdle(reason string) {
	o.mu.Lock()
	o.gen++
	cancel := o.cancel
	o.running = false
	o.sess = nil
	o.cancel = nil
	o.done = nil
	o.mu.Unlock()

	o.logger.Warn("forcing idle", "reason", reason)
	if cancel != nil {
		cancel(errors.New(reason))
	}
	o.trigger.Reset()
	o.bridge.Disconnect()
	o.hw.SetMode(hardware.ModeIdleDetection)
	o.ctrl.set(phase.Idle, map[string]any{"reason": reason}, "")
}

// Snapshot implements watchdog.Target.
func (o *Orchestrator) Snapshot() watchdog.Snapshot { return o.ctrl.Snapshot() }

// Resync implements watchdog.Target.
func (o *Orchestrator) Resync() { o.ctrl.Resync() }

// OnPresence feeds a presence toggle from the sensor or the control surface.
func (o *Orchestrator) OnPresence(present bool, distanceMM int) {
	o.mu.Lock()
	o.lastDistance = distanceMM
	sess := o.sess
	o.mu.Unlock()

	if sess != nil {
		sess.setDistance(distanceMM)
	}
	o.trigger.Handle(present)
}

// MarkAppReady signals that the mobile app is ready, as if it had reported
// in over the bridge. scenario alters the samples the selector sees. It
// reports whether a waiting session was released.
func (o *Orchestrator) MarkAppReady(platformID string, scenario liveness.Scenario) bool {
	sess := o.current()
	if sess == nil {
		return false
	}
	released := sess.markAppReady(platformID, &scenario)
	if released {
		o.logger.Info("app ready override", "platform_id", platformID, "scenario", scenario.Name())
		o.publish(event.NewBackend(o.ctrl.Phase(), "app_ready_override", map[string]any{
			"platform_id": platformID,
			"scenario":    scenario.Name(),
		}))
	}
	return released
}

// Status describes the orchestrator for the control surface.
type Status struct {
	Phase      phase.Phase   `json:"phase"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Running    bool          `json:"running"`
	DistanceMM int           `json:"distance_mm"`
	Session    *Info         `json:"session,omitempty"`
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{Running: o.running, DistanceMM: o.lastDistance}
	sess := o.sess
	o.mu.Unlock()

	st.Phase = o.ctrl.Phase()
	st.Elapsed = o.ctrl.Elapsed()
	if sess != nil {
		info := sess.Info()
		st.Session = &info
	}
	return st
}

// Running reports whether a session task is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Recent returns the newest finished sessions.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	return o.history.Recent(ctx, limit)
}

func (o *Orchestrator) current() *Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess
}

func (o *Orchestrator) publish(e event.Event) {
	if o.events != nil {
		o.events.Publish(e)
	}
}

// handleMessage is the bridge handler for one session.
func (o *Orchestrator) handleMessage(ctx context.Context, sess *Context, msg bridge.Message) {
	p := o.ctrl.Phase()

	switch msg.Type {
	case bridge.TypeJoined:
		o.publish(event.NewBackend(p, "joined", map[string]any{"role": msg.Role}))

	case bridge.TypeFromApp:
		app := msg.App()
		o.publish(event.NewBackend(p, "from_app", map[string]any{"data": msg.DataValue()}))
		if app.Message == "hello" {
			if err := o.bridge.Send(ctx, bridge.HelloReply()); err != nil {
				o.logger.Warn("failed to answer app hello", "error", err)
			}
		}
		if app.PlatformID != "" {
			if sess.markAppReady(app.PlatformID, nil) {
				o.logger.Info("mobile app ready", "platform_id", app.PlatformID)
			}
		}

	case bridge.TypeBackendResponse:
		sess.acknowledge(msg)
		o.publish(event.NewBackend(p, "backend_response", map[string]any{
			"status_code": msg.StatusCode,
			"data":        msg.DataValue(),
			"latency_ms":  msg.LatencyMs,
		}))

	case bridge.TypeStatus:
		o.publish(event.NewBackend(p, "status", map[string]any{"msg": msg.Msg}))

	case bridge.TypeError:
		o.logger.Warn("bridge reported error", "code", msg.Code, "message", msg.Message)
		o.publish(event.NewBackend(p, "error", map[string]any{
			"code":    msg.Code,
			"message": msg.Message,
		}))

	default:
		o.logger.Debug("ignoring bridge message", "type", msg.Type)
	}
}
