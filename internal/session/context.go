package session

import (
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/bridge"
	"github.com/mdai-dev/kiosk/internal/hardware"
	"github.com/mdai-dev/kiosk/internal/liveness"
	"github.com/mdai-dev/kiosk/internal/phase"
)

// Context is the state of one session. It is created when the session is
// scheduled and discarded by cleanup; sessions never share one.
type Context struct {
	ID        string
	StartedAt time.Time

	mu           sync.Mutex
	token        bridge.Token
	platformID   string
	distanceMM   int
	bestFrameB64 string
	scenario     liveness.Scenario
	furthest     phase.Phase
	metadata     map[string]any

	appReady     chan struct{}
	appReadyOnce sync.Once
	ack          chan bridge.Message

	// holds are hardware references this session must release.
	holds map[hardware.RequesterID]int
}

func newContext(id string, now time.Time) *Context {
	return &Context{
		ID:        id,
		StartedAt: now,
		furthest:  phase.Idle,
		metadata:  make(map[string]any),
		appReady:  make(chan struct{}),
		ack:       make(chan bridge.Message, 1),
		holds:     make(map[hardware.RequesterID]int),
	}
}

// Info is a read-only copy of a session's context for the control surface.
type Info struct {
	ID             string         `json:"id"`
	StartedAt      time.Time      `json:"started_at"`
	TokenIssuedAt  time.Time      `json:"token_issued_at,omitempty"`
	TokenExpiresIn float64        `json:"token_expires_in,omitempty"`
	PlatformID     string         `json:"platform_id,omitempty"`
	DistanceMM     int            `json:"distance_mm,omitempty"`
	HasBestFrame   bool           `json:"has_best_frame"`
	Scenario       string         `json:"scenario,omitempty"`
	PhaseReached   phase.Phase    `json:"phase_reached"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Info returns a copy of the context.
func (c *Context) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	return Info{
		ID:             c.ID,
		StartedAt:      c.StartedAt,
		TokenIssuedAt:  c.token.IssuedAt,
		TokenExpiresIn: c.token.ExpiresIn.Seconds(),
		PlatformID:     c.platformID,
		DistanceMM:     c.distanceMM,
		HasBestFrame:   c.bestFrameB64 != "",
		Scenario:       c.scenario.Name(),
		PhaseReached:   c.furthest,
		Metadata:       meta,
	}
}

func (c *Context) setToken(t bridge.Token) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *Context) setMeta(key string, v any) {
	c.mu.Lock()
	c.metadata[key] = v
	c.mu.Unlock()
}

func (c *Context) setDistance(mm int) {
	c.mu.Lock()
	c.distanceMM = mm
	c.mu.Unlock()
}

func (c *Context) setBestFrame(b64 string) {
	c.mu.Lock()
	c.bestFrameB64 = b64
	c.mu.Unlock()
}

func (c *Context) platform() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platformID
}

func (c *Context) currentScenario() liveness.Scenario {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scenario
}

func (c *Context) reached(p phase.Phase) {
	c.mu.Lock()
	if p != phase.Idle && p != phase.Error {
		c.furthest = p
	}
	c.mu.Unlock()
}

func (c *Context) phaseReached() phase.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.furthest
}

// markAppReady records the platform id (if given) and the scenario, and
// releases the app-ready wait. It reports whether this call released it.
func (c *Context) markAppReady(platformID string, scenario *liveness.Scenario) bool {
	c.mu.Lock()
	if platformID != "" {
		c.platformID = platformID
	}
	if scenario != nil && scenario.Active() {
		c.scenario = *scenario
	}
	c.mu.Unlock()

	released := false
	c.appReadyOnce.Do(func() {
		close(c.appReady)
		released = true
	})
	return released
}

// acknowledge delivers a backend response without blocking. Only the first
// one is kept.
func (c *Context) acknowledge(msg bridge.Message) {
	select {
	case c.ack <- msg:
	default:
	}
}

func (c *Context) hold(id hardware.RequesterID) {
	c.mu.Lock()
	c.holds[id]++
	c.mu.Unlock()
}

func (c *Context) unhold(id hardware.RequesterID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds[id] == 0 {
		return false
	}
	c.holds[id]--
	return true
}

// takeHolds returns and clears every outstanding reference.
func (c *Context) takeHolds() map[hardware.RequesterID]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.holds
	c.holds = make(map[hardware.RequesterID]int)
	return out
}
