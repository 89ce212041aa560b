// Package history records the outcome of every finished session so
// operators can see what a kiosk has been doing without trawling logs.
//
// Production kiosks push entries to a Redis list shared with the fleet
// dashboard ([RedisRecorder]). A kiosk without Redis keeps a bounded JSON
// file instead ([FileRecorder]).
package history

import (
	"context"
	"time"
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFlowError  Outcome = "flow_error"
	OutcomeUnexpected Outcome = "unexpected_error"
	OutcomeCanceled   Outcome = "canceled"
)

// Entry is one finished session.
type Entry struct {
	ID           string    `json:"id"`
	Outcome      Outcome   `json:"outcome"`
	Message      string    `json:"message,omitempty"`
	PlatformID   string    `json:"platform_id,omitempty"`
	PhaseReached string    `json:"phase_reached"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// Recorder stores session entries, newest first.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// NopRecorder keeps nothing.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Entry) error { return nil }

// Recent implements Recorder.
func (NopRecorder) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

// Close implements Recorder.
func (NopRecorder) Close() error { return nil }
