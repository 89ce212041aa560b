package hardware

import "fmt"

// RequesterID names a party that needs the camera running. The set is
// closed so every call site is checked at compile time.
type RequesterID int

const (
	// IdleDetection keeps the camera up for face-based presence detection.
	IdleDetection RequesterID = iota
	// ActiveSession holds the camera warm for the duration of a session.
	ActiveSession
	// Validation holds the camera during best-frame selection.
	Validation
	// Preview is an operator preview stream.
	Preview
	// Debug is a manual request from the control surface.
	Debug
)

var requesterNames = [...]string{
	IdleDetection: "idle_detection",
	ActiveSession: "active_session",
	Validation:    "validation",
	Preview:       "preview",
	Debug:         "debug",
}

// Requesters returns every requester in declaration order.
func Requesters() []RequesterID {
	return []RequesterID{IdleDetection, ActiveSession, Validation, Preview, Debug}
}

// String returns the wire name of the requester.
func (r RequesterID) String() string {
	if r < 0 || int(r) >= len(requesterNames) {
		return fmt.Sprintf("requester(%d)", int(r))
	}
	return requesterNames[r]
}

// ParseRequester converts a wire name to a RequesterID.
func ParseRequester(s string) (RequesterID, error) {
	for i, name := range requesterNames {
		if name == s {
			return RequesterID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hardware requester %q", s)
}

// Mode is the camera's operational mode. It is orthogonal to whether the
// hardware is running: it governs polling cadence and whether presence
// callbacks fire.
type Mode string

const (
	// ModeIdleDetection scans slowly for someone approaching.
	ModeIdleDetection Mode = "idle_detection"
	// ModeActive polls quickly during a session.
	ModeActive Mode = "active"
	// ModeValidation dedicates the pipeline to liveness; presence callbacks
	// are suppressed.
	ModeValidation Mode = "validation"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeIdleDetection, ModeActive, ModeValidation:
		return m, nil
	}
	return "", fmt.Errorf("unknown hardware mode %q", s)
}

// PresenceEnabled reports whether presence callbacks fire in this mode.
func (m Mode) PresenceEnabled() bool {
	return m != ModeValidation
}
