package event

import (
	"time"

	"github.com/mdai-dev/kiosk/internal/phase"
)

// Type identifies the category of an observer event.
type Type string

// Event categories delivered to observers.
const (
	TypeState     Type = "state"
	TypeMetrics   Type = "metrics"
	TypeBackend   Type = "backend"
	TypeWatchdog  Type = "watchdog"
	TypeHeartbeat Type = "heartbeat"
)

// Event is the payload distributed to observers (kiosk UI, operator
// console, history recorder).
type Event struct {
	Type  Type           `json:"type"`
	Phase phase.Phase    `json:"phase"`
	Data  map[string]any `json:"data"`
	Error string         `json:"error,omitempty"`
	Time  time.Time      `json:"timestamp"`
}

// EventType returns the event category as a string.
func (e Event) EventType() string { return string(e.Type) }

// Timestamp returns when the event occurred.
func (e Event) Timestamp() time.Time { return e.Time }

// Topic returns the routing key used for subscription filters,
// "<type>.<phase>" (e.g. "state.qr_display", "metrics.human_detect").
func (e Event) Topic() string {
	return string(e.Type) + "." + string(e.Phase)
}

// New creates an event stamped with the current time. A nil data map is
// replaced by an empty one so observers always see an object.
func New(t Type, p phase.Phase, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:  t,
		Phase: p,
		Data:  data,
		Time:  time.Now(),
	}
}

// NewState creates a phase transition event.
func NewState(p phase.Phase, data map[string]any, errMsg string) Event {
	e := New(TypeState, p, data)
	e.Error = errMsg
	return e
}

// NewMetrics creates a live validation metrics event.
func NewMetrics(p phase.Phase, data map[string]any) Event {
	return New(TypeMetrics, p, data)
}

// NewBackend creates an event describing a bridge message or override.
func NewBackend(p phase.Phase, name string, data map[string]any) Event {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event"] = name
	return New(TypeBackend, p, payload)
}

// NewWatchdog creates a watchdog diagnostic event for a recovery action.
func NewWatchdog(p phase.Phase, action string, data map[string]any) Event {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["action"] = action
	return New(TypeWatchdog, p, payload)
}

// NewHeartbeat creates a periodic liveness event.
func NewHeartbeat(p phase.Phase) Event {
	return New(TypeHeartbeat, p, nil)
}
