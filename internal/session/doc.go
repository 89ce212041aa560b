// Package session runs the kiosk session state machine.
//
// A [Controller] owns the current phase. Every transition goes through
// [Controller.Advance], which honours a minimum dwell in the outgoing phase,
// bumps the transition sequence the watchdog keys on, and broadcasts a state
// event.
//
// An [Orchestrator] sequences one session at a time through
//
//	pairing_request → hello_human → scan_prompt → qr_display →
//	human_detect → processing → complete
//
// calling the hardware arbiter, the bridge proxy and the frame selector along
// the way. Flow errors end in the error phase with their display message.
// Cancellation (presence lost, watchdog reset) skips the error phase and goes
// straight back to idle. Cleanup always runs.
//
// The Orchestrator is the presence.Host and the watchdog.Target for the
// daemon.
package session
