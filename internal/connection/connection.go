package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rickgao/livefeed/internal/protocol"
)

// Dispatcher receives every inbound data frame, in socket order.
type Dispatcher interface {
	Dispatch(frame protocol.Frame)
}

type discard struct{}

func (discard) Dispatch(protocol.Frame) {}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evOpened
	evOpenFailed
	evClosed
	evRetryDue
	evPingDue
	evPong
	evPongTimeout
	evNetworkChange
)

// event is one input to the transition function.
type event struct {
	kind  eventKind
	epoch uint64
	seq   uint64 // ping sequence, for evPongTimeout
	sock  Socket
	err   error
}

// Connection owns a single socket and its lifecycle.
type Connection struct {
	cfg        Config
	dialer     Dialer
	dispatcher Dispatcher
	logger     *slog.Logger
	endpoint   *url.URL
	jitter     func() float64

	// Guarded by mu. Only transition mutates these.
	mu         sync.Mutex
	state      State
	attempts   int
	lastErr    error
	epoch      uint64
	pingSeq    uint64
	sock       Socket
	cancelDial context.CancelFunc
	retryTimer *time.Timer
	pingTimer  *time.Timer
	pongTimer  *time.Timer
	stats      Stats
	pending    []StateEvent
	closing    []Socket // detached sockets, closed by handle after unlock

	emitMu sync.Mutex
}

// New creates a disconnected Connection. A nil dialer uses the gorilla websocket dialer.
func New(cfg Config, dialer Dialer, dispatcher Dispatcher, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = NewWebsocketDialer(cfg.ConnectTimeout, 0)
	}
	if dispatcher == nil {
		dispatcher = discard{}
	}

	return &Connection{
		cfg:        cfg,
		dialer:     dialer,
		dispatcher: dispatcher,
		logger:     logger,
		endpoint:   endpoint,
		jitter:     rand.Float64,
		state:      StateDisconnected,
	}, nil
}

// parseEndpoint validates the server URL, mapping http(s) to ws(s).
func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Connect starts connecting. No-op unless disconnected or in the error state.
func (c *Connection) Connect() {
	c.handle(event{kind: evConnect})
}

// Disconnect cancels all timers, closes the socket and leaves the connection
// disconnected. Safe to call repeatedly.
func (c *Connection) Disconnect() {
	c.handle(event{kind: evDisconnect})
}

// NetworkChanged is a hint from the host environment. While reconnecting it
// fires the pending retry immediately; while connected it probes liveness.
// Otherwise it is ignored.
func (c *Connection) NetworkChanged() {
	c.handle(event{kind: evNetworkChange})
}

// Send writes frame to the socket. It fails with ErrNotConnected unless the
// connection is connected; nothing is queued.
func (c *Connection) Send(frame protocol.Frame) error {
	c.mu.Lock()
	if c.state != StateConnected || c.sock == nil {
		c.stats.SendsDropped++
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotConnected, state)
	}
	sock, epoch := c.sock, c.epoch
	c.mu.Unlock()

	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	if err := sock.Write(data); err != nil {
		err = fmt.Errorf("%w: write: %w", ErrConnection, err)
		c.handle(event{kind: evClosed, epoch: epoch, err: err})
		return err
	}
	return nil
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns a status snapshot.
func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		IsConnected:       c.state == StateConnected,
		State:             c.state,
		URL:               c.cfg.URL,
		ReconnectAttempts: c.attempts,
	}
	if c.lastErr != nil {
		msg := c.lastErr.Error()
		info.LastError = &msg
	}
	return info
}

// Stats returns transport counters.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	for _, t := range []*time.Timer{c.retryTimer, c.pingTimer, c.pongTimer} {
		if t != nil {
			s.PendingTimers++
		}
	}
	s.LiveSocket = c.sock != nil
	return s
}

// handle runs one event through the transition function, then reports the
// resulting state changes.
func (c *Connection) handle(ev event) {
	c.mu.Lock()
	c.transition(ev)
	closing := c.closing
	c.closing = nil
	c.mu.Unlock()

	for _, sock := range closing {
		_ = sock.Close()
	}
	c.flushStateEvents()
}

// transition is the only place that mutates lifecycle state. Must be called with mu held.
func (c *Connection) transition(ev event) {
	switch ev.kind {
	case evConnect:
		switch c.state {
		case StateDisconnected, StateError:
			c.startAttempt()
		default:
			c.logger.Debug("connect ignored", "state", c.state)
		}

	case evDisconnect:
		c.stopRetry()
		c.stopHeartbeat()
		c.teardown()
		if c.state != StateDisconnected {
			c.setState(StateDisconnected, nil)
		}

	case evOpened:
		if ev.epoch != c.epoch || c.state != StateConnecting {
			c.closing = append(c.closing, ev.sock)
			return
		}
		c.releaseDial()
		c.sock = ev.sock
		c.attempts = 0
		c.lastErr = nil
		c.stats.Opens++
		c.setState(StateConnected, nil)

		go c.readLoop(ev.sock, c.epoch)
		c.startHeartbeat()

	case evOpenFailed:
		if ev.epoch != c.epoch || c.state != StateConnecting {
			return
		}
		c.fail(ev.err)

	case evClosed:
		if ev.epoch != c.epoch || c.state != StateConnected {
			return
		}
		c.fail(ev.err)

	case evRetryDue:
		if ev.epoch != c.epoch || c.state != StateReconnecting {
			return
		}
		c.retryTimer = nil
		c.startAttempt()

	case evPingDue:
		if ev.epoch != c.epoch || c.state != StateConnected {
			return
		}
		c.probe()
		c.pingTimer = c.after(c.cfg.Heartbeat.Interval, evPingDue)

	case evPong:
		if ev.epoch != c.epoch || c.state != StateConnected {
			return
		}
		c.stats.PongsReceived++
		if c.pongTimer != nil {
			c.pongTimer.Stop()
			c.pongTimer = nil
		}

	case evPongTimeout:
		if ev.epoch != c.epoch || ev.seq != c.pingSeq || c.pongTimer == nil || c.state != StateConnected {
			return
		}
		c.pongTimer = nil
		c.stats.HeartbeatTimeouts++
		c.fail(fmt.Errorf("%w within %s", ErrHeartbeatTimeout, c.cfg.Heartbeat.Timeout))

	case evNetworkChange:
		switch c.state {
		case StateReconnecting:
			if c.retryTimer == nil {
				return
			}
			c.stopRetry()
			c.logger.Info("network changed, retrying now", "attempt", c.attempts)
			c.startAttempt()
		case StateConnected:
			c.logger.Debug("network changed, probing connection")
			c.probe()
		default:
			c.logger.Debug("network change ignored", "state", c.state)
		}
	}
}

// startAttempt tears down any existing socket and dials a new one.
func (c *Connection) startAttempt() {
	c.teardown()
	c.stats.Dials++
	c.setState(StateConnecting, nil)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	c.cancelDial = cancel
	go c.dial(ctx, c.epoch)
}

// fail records err and either schedules the next attempt or gives up.
func (c *Connection) fail(err error) {
	c.stopHeartbeat()
	c.teardown()
	c.stats.Failures++
	c.lastErr = err

	if c.cfg.Policy.Exhausted(c.attempts) {
		c.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.attempts, err)
		c.logger.Error("giving up reconnecting",
			"url", c.cfg.URL,
			"attempts", c.attempts,
			"error", err,
		)
		c.setState(StateError, c.lastErr)
		return
	}

	c.attempts++
	delay := c.cfg.Policy.Delay(c.attempts, c.jitter())

	c.logger.Warn("connection failed, scheduling reconnect",
		"url", c.cfg.URL,
		"attempt", c.attempts,
		"delay", delay,
		"error", err,
	)
	c.setState(StateReconnecting, err)
	c.retryTimer = c.after(delay, evRetryDue)
}

// teardown detaches the live socket for closing, abandons any in-flight dial
// and advances the epoch so callbacks bound to them become stale.
func (c *Connection) teardown() {
	c.epoch++
	c.releaseDial()
	if c.sock != nil {
		c.closing = append(c.closing, c.sock)
		c.sock = nil
	}
}

func (c *Connection) releaseDial() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
}

func (c *Connection) stopRetry() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Connection) startHeartbeat() {
	c.pingTimer = c.after(c.cfg.Heartbeat.Interval, evPingDue)
}

func (c *Connection) stopHeartbeat() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// probe sends a ping and arms the pong deadline. At most one ping is outstanding.
func (c *Connection) probe() {
	if c.pongTimer != nil {
		return
	}

	c.pingSeq++
	c.stats.PingsSent++
	go c.writeControl(c.sock, c.epoch, protocol.Ping())
	c.pongTimer = c.after(c.cfg.Heartbeat.Timeout, evPongTimeout)
}

// after schedules kind to be handled after d, bound to the current epoch.
func (c *Connection) after(d time.Duration, kind eventKind) *time.Timer {
	ev := event{kind: kind, epoch: c.epoch, seq: c.pingSeq}
	return time.AfterFunc(d, func() {
		c.handle(ev)
	})
}

func (c *Connection) setState(to State, cause error) {
	from := c.state
	c.state = to
	c.pending = append(c.pending, StateEvent{
		From:    from,
		To:      to,
		Attempt: c.attempts,
		Err:     cause,
	})

	c.logger.Info("connection state changed",
		"from", from,
		"to", to,
		"attempt", c.attempts,
	)
}

// flushStateEvents delivers queued transitions to OnStateChange in order.
// A callback that re-enters the Connection only queues; the active flusher
// drains the queue before returning.
func (c *Connection) flushStateEvents() {
	for {
		if !c.emitMu.TryLock() {
			return
		}

		c.mu.Lock()
		events := c.pending
		c.pending = nil
		c.mu.Unlock()

		if c.cfg.OnStateChange != nil {
			for _, ev := range events {
				c.cfg.OnStateChange(ev)
			}
		}
		c.emitMu.Unlock()

		c.mu.Lock()
		more := len(c.pending) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

// dial fetches a fresh token and opens a socket for the attempt bound to epoch.
func (c *Connection) dial(ctx context.Context, epoch uint64) {
	target, header, err := c.handshake(ctx)
	if err != nil {
		c.handle(event{kind: evOpenFailed, epoch: epoch, err: err})
		return
	}

	sock, err := c.dialer.Dial(ctx, target, header)
	if err != nil {
		if !errors.Is(err, ErrAuth) {
			err = fmt.Errorf("%w: dial: %w", ErrConnection, err)
		}
		c.handle(event{kind: evOpenFailed, epoch: epoch, err: err})
		return
	}

	c.handle(event{kind: evOpened, epoch: epoch, sock: sock})
}

// handshake builds the dial URL and headers, placing the token per AuthMode.
func (c *Connection) handshake(ctx context.Context) (string, http.Header, error) {
	header := c.cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	if c.cfg.TokenProvider == nil {
		return c.endpoint.String(), header, nil
	}

	token, err := c.cfg.TokenProvider(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: token provider: %w", ErrAuth, err)
	}
	if token == "" {
		return c.endpoint.String(), header, nil
	}

	if c.cfg.AuthMode == AuthHeader {
		header.Set("Authorization", "Bearer "+token)
		return c.endpoint.String(), header, nil
	}

	u := *c.endpoint
	q := u.Query()
	q.Set(c.cfg.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), header, nil
}

// readLoop decodes frames from sock until it fails. Heartbeat frames feed the
// state machine; data frames go to the dispatcher.
func (c *Connection) readLoop(sock Socket, epoch uint64) {
	for {
		data, err := sock.Read()
		if err != nil {
			c.handle(event{kind: evClosed, epoch: epoch, err: fmt.Errorf("%w: read: %w", ErrConnection, err)})
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.mu.Lock()
			c.stats.MalformedFrames++
			c.mu.Unlock()
			c.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}

		switch {
		case frame.IsPong():
			c.handle(event{kind: evPong, epoch: epoch})
			continue
		case frame.IsPing():
			c.writeControl(sock, epoch, protocol.Frame{Type: protocol.TypePong})
			continue
		}

		if !c.live(epoch) {
			return
		}

		c.logger.Debug("frame received", "channel", frame.Channel, "type", frame.Type)
		c.dispatcher.Dispatch(frame)
	}
}

// live reports whether epoch still names the connected socket.
func (c *Connection) live(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.state != StateConnected {
		return false
	}
	c.stats.FramesReceived++
	return true
}

func (c *Connection) writeControl(sock Socket, epoch uint64, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	if err := sock.Write(data); err != nil {
		c.logger.Debug("control write failed", "type", frame.Type, "error", err)
		c.handle(event{kind: evClosed, epoch: epoch, err: fmt.Errorf("%w: write %s: %w", ErrConnection, frame.Type, err)})
	}
}
