// Package phase defines the kiosk session phases.
package phase

import "fmt"

// Phase is one stage of the user-facing session timeline. Exactly one phase
// is active at a time.
type Phase string

// Phases in chronological order.
const (
	Idle           Phase = "idle"
	PairingRequest Phase = "pairing_request"
	HelloHuman     Phase = "hello_human"
	ScanPrompt     Phase = "scan_prompt"
	QrDisplay      Phase = "qr_display"
	HumanDetect    Phase = "human_detect"
	Processing     Phase = "processing"
	Complete       Phase = "complete"
	Error          Phase = "error"
)

// All returns every phase in chronological order.
func All() []Phase {
	return []Phase{
		Idle,
		PairingRequest,
		HelloHuman,
		ScanPrompt,
		QrDisplay,
		HumanDetect,
		Processing,
		Complete,
		Error,
	}
}

// Parse converts a string to a Phase.
func Parse(s string) (Phase, error) {
	for _, p := range All() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal reports whether the session is already ending in this phase.
func (p Phase) IsTerminal() bool {
	return p == Complete || p == Error
}

// IsCapture reports whether the frame selector owns presence semantics in
// this phase.
func (p Phase) IsCapture() bool {
	return p == HumanDetect || p == Processing
}

// IsActive reports whether a session is running in this phase.
func (p Phase) IsActive() bool {
	return p != Idle
}
