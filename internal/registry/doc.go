// Package registry maps channel names to handler callbacks and fans inbound
// frames out to them.
//
// The wildcard channel "*" receives every frame. Handlers run synchronously in
// registration order; a panicking handler is logged and skipped so the rest
// still run.
package registry
