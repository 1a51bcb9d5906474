// Package notification turns live feed frames into feature events and toasts.
//
// A Router subscribes to the wildcard channel and keeps frames whose channel
// falls inside one of its namespaces (e.g. "approval:"). Each accepted frame
// must carry an "item" object and a type of new, updated or assigned. For every
// accepted frame the router, independently of each other:
//
//   - invalidates the namespace key on the configured Invalidator
//   - runs callbacks registered with On for the frame's type
//   - presents a toast when ShouldToast allows it, subject to dedup and rate limiting
//
// Payload shape:
//
//	{"item": {"id": "a-12", "title": "...", "status": "approved", "priority": "high", "url": "/approvals/a-12"},
//	 "changeType": "approved",
//	 "message": "optional override"}
package notification
