// Package presence turns raw "someone is in front of the kiosk" signals into
// session decisions.
//
// A [Sensor] polls a distance source, debounces it against a threshold and
// emits presence toggles. A [Trigger] consumes those toggles and, depending
// on the session phase, schedules a new session or runs a grace countdown
// that cancels the session if the person does not come back in time.
//
// [ReaderProcess] supervises the external ToF reader binary and exposes its
// latest reading as a [DistanceProvider].
package presence
