package sim

import (
	"context"
	"sync"
)

// Distance is a settable presence.DistanceProvider.
type Distance struct {
	mu  sync.Mutex
	mm  int
	set bool
}

// NewDistance creates a provider reporting mm. A negative mm starts with no
// reading.
func NewDistance(mm int) *Distance {
	d := &Distance{}
	if mm >= 0 {
		d.Set(mm)
	}
	return d
}

// Set updates the reading.
func (d *Distance) Set(mm int) {
	d.mu.Lock()
	d.mm = mm
	d.set = true
	d.mu.Unlock()
}

// Clear removes the reading, as if the sensor stopped reporting.
func (d *Distance) Clear() {
	d.mu.Lock()
	d.set = false
	d.mu.Unlock()
}

// Distance implements presence.DistanceProvider.
func (d *Distance) Distance(context.Context) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mm, d.set
}
