package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrConnection       = errors.New("connection error")
	ErrAuth             = errors.New("auth error")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout (no pong)")
	ErrNotConnected     = errors.New("not connected")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	ErrInvalidURL       = errors.New("invalid url")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String returns the wire/UI name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateDisconnected; st <= StateError; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// StateEvent describes one transition.
type StateEvent struct {
	From    State
	To      State
	Attempt int
	Err     error // cause of the transition, if any
}

// TokenProvider returns the auth token for the next connection attempt.
// An empty token connects without credentials.
type TokenProvider func(ctx context.Context) (string, error)

// AuthMode selects where the token is placed on the handshake.
type AuthMode int

const (
	AuthQuery  AuthMode = iota // ?<TokenParam>=<token>
	AuthHeader                 // Authorization: Bearer <token>
)

// ReconnectPolicy controls the backoff between attempts.
type ReconnectPolicy struct {
	MaxRetries  int           // <= 0 means unlimited
	BaseDelay   time.Duration // delay before the first retry
	Multiplier  float64
	MaxDelay    time.Duration
	JitterRatio float64 // uniform jitter in [-ratio*delay, +ratio*delay]
}

// DefaultReconnectPolicy returns the default backoff: 1s doubling to 30s with 20% jitter.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxRetries:  0,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		JitterRatio: 0.2,
	}
}

// HeartbeatConfig governs the ping cadence and the pong grace period.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultHeartbeatConfig returns sensible defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Config configures a Connection.
type Config struct {
	URL            string
	Header         http.Header // extra handshake headers
	Policy         ReconnectPolicy
	Heartbeat      HeartbeatConfig
	ConnectTimeout time.Duration // bound on token fetch + dial
	TokenProvider  TokenProvider
	AuthMode       AuthMode
	TokenParam     string // query parameter name for AuthQuery

	// OnStateChange is called after every transition, in order, outside the
	// connection lock. It may call back into the Connection.
	OnStateChange func(StateEvent)
}

// DefaultConfig returns a Config for url with default policy and heartbeat.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Policy:         DefaultReconnectPolicy(),
		Heartbeat:      DefaultHeartbeatConfig(),
		ConnectTimeout: 10 * time.Second,
		TokenParam:     "token",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig(c.URL)

	if c.Policy.BaseDelay <= 0 {
		c.Policy.BaseDelay = def.Policy.BaseDelay
	}
	if c.Policy.Multiplier < 1 {
		c.Policy.Multiplier = def.Policy.Multiplier
	}
	if c.Policy.MaxDelay <= 0 {
		c.Policy.MaxDelay = def.Policy.MaxDelay
	}
	if c.Policy.MaxDelay < c.Policy.BaseDelay {
		c.Policy.MaxDelay = c.Policy.BaseDelay
	}
	if c.Policy.JitterRatio < 0 {
		c.Policy.JitterRatio = 0
	}
	if c.Policy.JitterRatio > 1 {
		c.Policy.JitterRatio = 1
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = def.Heartbeat.Interval
	}
	if c.Heartbeat.Timeout <= 0 {
		c.Heartbeat.Timeout = def.Heartbeat.Timeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.TokenParam == "" {
		c.TokenParam = def.TokenParam
	}
	return c
}

// Info is a read-only status snapshot for UI display.
type Info struct {
	IsConnected       bool    `json:"isConnected"`
	State             State   `json:"connectionState"`
	URL               string  `json:"url"`
	LastError         *string `json:"lastError"` // null when no error is recorded
	ReconnectAttempts int     `json:"reconnectAttempts"`
}

// ErrorText returns the last error message, or "" when none is recorded.
func (i Info) ErrorText() string {
	if i.LastError == nil {
		return ""
	}
	return *i.LastError
}

// Stats contains transport telemetry counters.
type Stats struct {
	Dials             int64
	Opens             int64
	Failures          int64
	FramesReceived    int64
	MalformedFrames   int64
	PingsSent         int64
	PongsReceived     int64
	HeartbeatTimeouts int64
	SendsDropped      int64
	PendingTimers     int
	LiveSocket        bool
}
