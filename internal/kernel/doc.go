// Package kernel drives code execution on a remote kernel over its channel
// WebSocket.
//
// The package implements:
//   - Session: One live kernel connection; Execute suspends the caller until
//     the kernel settles the execution
//   - Tracker: Pending executions keyed by correlation id, with at-most-once
//     outcome settlement and in-order output delivery
//   - RouteEnvelope: Translation of wire envelopes into typed output events
//   - Endpoint: The kernel endpoint triple and its channel URL derivation
//
// All output sinks run on the connection's read goroutine, so events for one
// execution arrive in frame order. Session.Dispose waits for that goroutine
// to exit, which is what makes its no-callbacks-after-return guarantee hold.
package kernel
