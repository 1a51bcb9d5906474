package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/livefeed/internal/connection"
	"github.com/rickgao/livefeed/internal/connection/conntest"
	"github.com/rickgao/livefeed/internal/protocol"
)

func newTestClient(t *testing.T, d *conntest.Dialer, tweak func(*connection.Config)) *Client {
	t.Helper()

	cfg := connection.DefaultConfig("ws://feed.test/ws")
	cfg.Policy.JitterRatio = 0
	if tweak != nil {
		tweak(&cfg)
	}

	c, err := New(cfg, WithDialer(d), WithLogger(slog.Default()))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool { return c.ConnectionInfo().IsConnected }, time.Second, time.Millisecond)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(connection.Config{URL: "not a url"})
	assert.ErrorIs(t, err, connection.ErrInvalidURL)
}

func TestClient_EndToEnd(t *testing.T) {
	d := conntest.NewDialer(10 * time.Millisecond)
	c := newTestClient(t, d, nil)

	c.Connect()
	assert.Equal(t, connection.StateConnecting, c.ConnectionInfo().State)
	waitConnected(t, c)

	var mu sync.Mutex
	var got []protocol.Frame
	c.Subscribe("risk:alert", func(f protocol.Frame) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f)
	})

	require.NoError(t, d.Last().InjectFrame("risk:alert", "created", map[string]any{
		"id":    "r-17",
		"level": "high",
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "created", got[0].Type)
	assert.JSONEq(t, `{"id":"r-17","level":"high"}`, string(got[0].Data))
}

func TestClient_ForcedFailureLoop(t *testing.T) {
	d := conntest.NewDialer(0)
	d.FailWith(errors.New("socket closed before open"))

	c := newTestClient(t, d, func(cfg *connection.Config) {
		cfg.Policy.MaxRetries = 2
		cfg.Policy.BaseDelay = 50 * time.Millisecond
	})

	c.Connect()
	time.Sleep(150*time.Millisecond + 100*time.Millisecond)

	info := c.ConnectionInfo()
	assert.Equal(t, connection.StateError, info.State)
	assert.Equal(t, 2, info.ReconnectAttempts)
	assert.False(t, info.IsConnected)
	assert.NotEmpty(t, info.ErrorText())
}

func TestClient_ConnectIdempotent(t *testing.T) {
	d := conntest.NewDialer(5 * time.Millisecond)
	c := newTestClient(t, d, nil)

	for i := 0; i < 5; i++ {
		c.Connect()
	}
	waitConnected(t, c)
	c.Connect()

	assert.Equal(t, 1, d.Dials())
}

func TestClient_RepeatedCyclesLeakNothing(t *testing.T) {
	d := conntest.NewDialer(0)
	c := newTestClient(t, d, func(cfg *connection.Config) {
		cfg.Heartbeat.Interval = 5 * time.Millisecond
	})

	for i := 0; i < 20; i++ {
		c.Connect()
		waitConnected(t, c)
		c.Disconnect()
	}

	assert.Equal(t, connection.StateDisconnected, c.ConnectionInfo().State)
	assert.Zero(t, d.OpenSockets())

	stats := c.Stats()
	assert.Zero(t, stats.Connection.PendingTimers)
	assert.False(t, stats.Connection.LiveSocket)
	assert.Equal(t, int64(20), stats.Connection.Opens)
}

func TestClient_SubscriptionsSurviveDisconnect(t *testing.T) {
	d := conntest.NewDialer(0)
	c := newTestClient(t, d, nil)

	var calls atomic.Int32
	c.Subscribe(protocol.Wildcard, func(protocol.Frame) { calls.Add(1) })

	c.Connect()
	waitConnected(t, c)
	c.Disconnect()

	c.Connect()
	waitConnected(t, c)
	require.NoError(t, d.Last().InjectFrame("any", "new", map[string]any{}))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestClient_Close(t *testing.T) {
	d := conntest.NewDialer(0)
	c := newTestClient(t, d, nil)

	c.Subscribe("a", func(protocol.Frame) {})
	c.Subscribe(protocol.Wildcard, func(protocol.Frame) {})
	c.Connect()
	waitConnected(t, c)
	assert.Equal(t, []string{protocol.Wildcard, "a"}, c.Stats().Channels)

	c.Close()
	c.Close()

	assert.Equal(t, connection.StateDisconnected, c.ConnectionInfo().State)
	assert.Zero(t, c.Stats().Registry.Subscriptions)
	assert.Empty(t, c.Stats().Channels)
}

func TestClient_Unsubscribe(t *testing.T) {
	d := conntest.NewDialer(0)
	c := newTestClient(t, d, nil)

	var calls atomic.Int32
	id := c.Subscribe("a", func(protocol.Frame) { calls.Add(1) })
	c.Unsubscribe(id)
	c.Unsubscribe(id)
	c.Unsubscribe("unknown")

	c.Connect()
	waitConnected(t, c)
	require.NoError(t, d.Last().InjectFrame("a", "new", map[string]any{}))
	require.NoError(t, d.Last().InjectFrame("b", "new", map[string]any{}))

	require.Eventually(t, func() bool {
		return c.Stats().Connection.FramesReceived == 2
	}, time.Second, time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestClient_SendSwallowsNotConnected(t *testing.T) {
	d := conntest.NewDialer(0)
	c := newTestClient(t, d, nil)

	assert.False(t, c.Publish("chat", "message", map[string]string{"text": "lost"}))

	c.Connect()
	waitConnected(t, c)

	assert.True(t, c.Publish("chat", "message", map[string]string{"text": "hi"}))
	assert.False(t, c.Publish("chat", "message", func() {}))

	written := d.Last().Written()
	require.Len(t, written, 1)
	f, err := protocol.Decode(written[0])
	require.NoError(t, err)
	assert.Equal(t, "chat", f.Channel)
	assert.NotEmpty(t, f.Timestamp)
}

func TestClient_IndependentInstances(t *testing.T) {
	d1, d2 := conntest.NewDialer(0), conntest.NewDialer(0)
	c1 := newTestClient(t, d1, nil)
	c2 := newTestClient(t, d2, nil)

	c1.Connect()
	waitConnected(t, c1)

	assert.Equal(t, connection.StateDisconnected, c2.ConnectionInfo().State)
	assert.Zero(t, d2.Dials())
}

func TestContext(t *testing.T) {
	c := newTestClient(t, conntest.NewDialer(0), nil)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContext(context.Background(), c)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, c, got)
}
