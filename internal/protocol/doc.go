// Package protocol defines the JSON wire frame exchanged with the notification server.
//
// Every frame is an independent, self-describing JSON object:
//
//	{"channel": "approval:queue", "type": "new", "data": {...}, "timestamp": "..."}
//
// Heartbeats are control frames without a channel:
//
//	{"type": "ping"}  client → server
//	{"type": "pong"}  server → client
package protocol
