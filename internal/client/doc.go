// Package client is the public surface of the live feed transport.
//
// A Client owns one connection.Connection and one registry.Registry. Inbound
// frames flow from the socket through the registry to subscribed handlers;
// outbound frames go through Send or Publish.
//
// Clients are constructed explicitly and passed around, either directly or
// through a context with NewContext and FromContext. There is no package-level
// instance, so independent clients can coexist in one process.
package client
