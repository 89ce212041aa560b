package sim

import (
	"context"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/logging"
)

// Camera is a simulated camera pipeline. It implements hardware.Device and
// hardware.ModeSetter.
type Camera struct {
	startup time.Duration
	logger  *logging.Logger

	mu          sync.Mutex
	active      bool
	mode        hardware.Mode
	activations int
}

// NewCamera creates a Camera whose bring-up takes startup.
func NewCamera(startup time.Duration, logger *logging.Logger) *Camera {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Camera{
		startup: startup,
		logger:  logger.WithComponent("sim_camera"),
		mode:    hardware.ModeIdleDetection,
	}
}

// Activate implements hardware.Device.
func (c *Camera) Activate(ctx context.Context) error {
	if c.startup > 0 {
		t := time.NewTimer(c.startup)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	c.active = true
	c.activations++
	c.mu.Unlock()
	c.logger.Info("simulated camera started")
	return nil
}

// Deactivate implements hardware.Device.
func (c *Camera) Deactivate(context.Context) error {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.logger.Info("simulated camera stopped")
	return nil
}

// SetMode implements hardware.ModeSetter.
func (c *Camera) SetMode(m hardware.Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// Active reports whether the camera is running.
func (c *Camera) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Mode returns the last mode set.
func (c *Camera) Mode() hardware.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Activations returns how many times the camera was brought up.
func (c *Camera) Activations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}
