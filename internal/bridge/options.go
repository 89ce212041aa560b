package bridge

import (
	"time"

	"github.com/mdai-dev/kiosk/internal/logging"
)

// Option configures a Proxy.
type Option func(*config)

type config struct {
	logger *logging.Logger
	now    func() time.Time
}

// WithLogger sets the logger for the proxy.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock replaces the time source used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
