// Package hardware arbitrates the shared camera between competing
// requesters.
//
// The [Arbiter] keeps a reference count per [RequesterID]. The camera is
// brought up when the total goes from zero to positive and torn down when it
// returns to zero. Bring-up and teardown run on the worker pool; callers wait
// for the result but the operation itself is never abandoned halfway, even if
// the caller's context is cancelled.
package hardware

import (
	"context"
	"runtime"
	"sync"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/logging"
	"github.com/mdai-dev/kiosk/internal/worker"
)

// Device is the camera pipeline collaborator.
type Device interface {
	// Activate brings the pipeline up. It may block for seconds.
	Activate(ctx context.Context) error
	// Deactivate releases the pipeline.
	Deactivate(ctx context.Context) error
}

// ModeSetter is implemented by devices that adjust their own cadence when
// the operational mode changes.
type ModeSetter interface {
	SetMode(Mode)
}

// Status is a point-in-time view of the arbiter.
type Status struct {
	Active bool              `json:"active"`
	Mode   Mode              `json:"mode"`
	Counts map[string]uint32 `json:"counts"`
	Total  uint32            `json:"total"`
}

// Arbiter reference-counts camera activation requests.
type Arbiter struct {
	device Device
	pool   *worker.Pool
	logger *logging.Logger

	// opMu serializes transitions so two requests cannot interleave a
	// bring-up with a teardown.
	opMu sync.Mutex

	mu        sync.Mutex
	counts    map[RequesterID]uint32
	active    bool
	mode      Mode
	listeners []func(Mode)
}

// NewArbiter creates an arbiter in idle-detection mode with the camera off.
func NewArbiter(device Device, pool *worker.Pool, logger *logging.Logger) *Arbiter {
	if device == nil {
		panic("hardware.NewArbiter: device must not be nil")
	}
	if pool == nil {
		panic("hardware.NewArbiter: pool must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Arbiter{
		device: device,
		pool:   pool,
		logger: logger.WithComponent("arbiter"),
		counts: make(map[RequesterID]uint32),
		mode:   ModeIdleDetection,
	}
}

// Request acquires (active=true) or releases (active=false) one reference
// for id. Releasing a requester with no outstanding references is a logged
// no-op. When the total crosses zero the camera is activated or deactivated.
//
// A failed activation keeps the reference so the caller's later release
// stays balanced; the next request retries the bring-up.
func (a *Arbiter) Request(ctx context.Context, id RequesterID, active bool) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	if active {
		a.counts[id]++
		a.logger.Info("hardware request acquired",
			"requester", id.String(), "count", a.counts[id], "total", a.totalLocked())
	} else {
		current := a.counts[id]
		if current == 0 {
			a.logger.Debug("ignoring hardware release with no active request",
				"requester", id.String(), "total", a.totalLocked())
		} else {
			a.counts[id]--
			if a.counts[id] == 0 {
				delete(a.counts, id)
			}
			a.logger.Info("hardware request released",
				"requester", id.String(), "was", current, "remaining", a.totalLocked())
		}
	}
	shouldRun := a.totalLocked() > 0
	running := a.active
	a.mu.Unlock()

	switch {
	case shouldRun && !running:
		return a.activate(ctx)
	case !shouldRun && running:
		a.deactivate(ctx, "no active requests")
	}
	return nil
}

// activate must be called with opMu held.
func (a *Arbiter) activate(ctx context.Context) error {
	a.logger.Info("activating camera pipeline", "requests", a.Status().Counts)

	err := a.pool.Do(context.WithoutCancel(ctx), "camera_activate", func() error {
		return a.device.Activate(context.WithoutCancel(ctx))
	})
	if err != nil {
		a.logger.Error("camera activation failed", "error", err)
		return errors.Join(errors.ErrCameraActivation, err)
	}

	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	return nil
}

// deactivate must be called with opMu held. Teardown errors are logged; the
// pipeline is considered down either way.
func (a *Arbiter) deactivate(ctx context.Context, reason string) {
	a.logger.Info("deactivating camera pipeline", "reason", reason)

	err := a.pool.Do(context.WithoutCancel(ctx), "camera_deactivate", func() error {
		return a.device.Deactivate(context.WithoutCancel(ctx))
	})
	if err != nil {
		a.logger.Warn("camera deactivation failed", "error", err)
	}

	a.mu.Lock()
	a.active = false
	a.mu.Unlock()

	// The pipeline holds large frame buffers; return them promptly.
	runtime.GC()
}

// ForceShutdown clears every reference and tears the camera down.
func (a *Arbiter) ForceShutdown(ctx context.Context) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.mu.Lock()
	clear(a.counts)
	running := a.active
	a.mu.Unlock()

	if running {
		a.deactivate(ctx, "shutdown")
	}
}

// SetMode switches the operational mode. It does not start or stop the
// camera. Listeners registered with OnModeChange are called when the mode
// actually changes.
func (a *Arbiter) SetMode(m Mode) {
	a.mu.Lock()
	if a.mode == m {
		a.mu.Unlock()
		return
	}
	prev := a.mode
	a.mode = m
	listeners := append([]func(Mode){}, a.listeners...)
	a.mu.Unlock()

	a.logger.Info("hardware mode changed", "from", string(prev), "to", string(m))
	if setter, ok := a.device.(ModeSetter); ok {
		setter.SetMode(m)
	}
	for _, fn := range listeners {
		fn(m)
	}
}

// OnModeChange registers fn to be called after each mode change.
func (a *Arbiter) OnModeChange(fn func(Mode)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Mode returns the current operational mode.
func (a *Arbiter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// PresenceEnabled reports whether presence callbacks should fire.
func (a *Arbiter) PresenceEnabled() bool {
	return a.Mode().PresenceEnabled()
}

// Active reports whether the camera pipeline is running.
func (a *Arbiter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Count returns the outstanding references for id.
func (a *Arbiter) Count(id RequesterID) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[id]
}

// Status returns a snapshot of the request table and mode.
func (a *Arbiter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]uint32, len(a.counts))
	for id, n := range a.counts {
		counts[id.String()] = n
	}
	return Status{
		Active: a.active,
		Mode:   a.mode,
		Counts: counts,
		Total:  a.totalLocked(),
	}
}

func (a *Arbiter) totalLocked() uint32 {
	var total uint32
	for _, n := range a.counts {
		total += n
	}
	return total
}
