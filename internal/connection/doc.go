// Package connection implements the self-healing notification socket.
//
// A Connection owns at most one socket at a time and drives it through a
// single transition function:
//
//	disconnected ─Connect→ connecting ─open→ connected
//	connecting ─fail→ reconnecting ─backoff→ connecting
//	connected ─close/heartbeat timeout→ reconnecting
//	connecting/reconnecting ─retries exhausted→ error
//	any ─Disconnect→ disconnected
//
// Socket events, timers and API calls are all fed into the same handler. Each
// event carries the epoch it was scheduled under; the epoch advances whenever a
// socket is torn down or a new attempt starts, so callbacks from an older
// socket or timer never cause a transition.
package connection
