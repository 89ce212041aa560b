// Package bridge talks to the pairing bridge: it mints session tokens over
// HTTP, holds the kiosk's WebSocket channel open while a session runs and
// surfaces inbound messages to the orchestrator.
//
// The [Proxy] is the piece the rest of the daemon sees. It tracks when the
// bridge last spoke so the watchdog can decide whether a reconnect is worth
// trying, and it remembers the session token so that reconnect needs no
// arguments.
package bridge
