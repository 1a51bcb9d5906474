package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rickgao/livefeed/internal/connection"
	"github.com/rickgao/livefeed/internal/protocol"
	"github.com/rickgao/livefeed/internal/registry"
)

// Client combines a Connection with a subscription Registry.
type Client struct {
	conn     *connection.Connection
	registry *registry.Registry
	logger   *slog.Logger
	dialer   connection.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the websocket dialer, e.g. with conntest.Dialer.
func WithDialer(d connection.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// Stats combines connection and registry counters.
type Stats struct {
	Connection connection.Stats
	Registry   registry.Stats
	Channels   []string // subscribed channel names, sorted
}

// New creates a disconnected Client.
func New(cfg connection.Config, opts ...Option) (*Client, error) {
	c := &Client{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.registry = registry.New(c.logger.With("component", "registry"))

	conn, err := connection.New(cfg, c.dialer, c.registry, c.logger.With("component", "connection"))
	if err != nil {
		return nil, err
	}
	c.conn = conn

	return c, nil
}

// Connect starts connecting. It is a no-op while connecting, connected or
// reconnecting.
func (c *Client) Connect() {
	c.conn.Connect()
}

// Disconnect closes the transport. Subscriptions are kept and receive frames
// again after the next Connect.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Close disconnects and removes every subscription.
func (c *Client) Close() {
	c.conn.Disconnect()
	c.registry.Clear()
}

// Send writes frame if connected. A send while not connected is logged and
// dropped; Send reports whether the frame was written.
func (c *Client) Send(frame protocol.Frame) bool {
	err := c.conn.Send(frame)
	switch {
	case err == nil:
		return true
	case errors.Is(err, connection.ErrNotConnected):
		c.logger.Warn("dropping outbound frame",
			"channel", frame.Channel,
			"type", frame.Type,
			"error", err,
		)
	default:
		c.logger.Warn("send failed",
			"channel", frame.Channel,
			"type", frame.Type,
			"error", err,
		)
	}
	return false
}

// Publish builds a frame for channel and sends it.
func (c *Client) Publish(channel, typ string, data any) bool {
	frame, err := protocol.New(channel, typ, data)
	if err != nil {
		c.logger.Warn("cannot build frame", "channel", channel, "type", typ, "error", err)
		return false
	}
	return c.Send(frame)
}

// Subscribe registers h for channel, or for every frame when channel is
// protocol.Wildcard. It returns an id for Unsubscribe.
func (c *Client) Subscribe(channel string, h registry.Handler) string {
	return c.registry.Subscribe(channel, h)
}

// Unsubscribe removes one subscription. Unknown ids are ignored.
func (c *Client) Unsubscribe(id string) {
	c.registry.Unsubscribe(id)
}

// ConnectionInfo returns the status snapshot.
func (c *Client) ConnectionInfo() connection.Info {
	return c.conn.Info()
}

// NetworkChanged forwards a network change hint to the connection.
func (c *Client) NetworkChanged() {
	c.conn.NetworkChanged()
}

// Stats returns transport and registry counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connection: c.conn.Stats(),
		Registry:   c.registry.Stats(),
		Channels:   c.registry.Channels(),
	}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Client stored in ctx, if any.
func FromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Client)
	return c, ok && c != nil
}
