package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxRetries        = 0 // unlimited
	DefaultRetryDelay        = 1 * time.Second
	DefaultMaxRetryDelay     = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultJitterRatio       = 0.2
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultAuthMode          = AuthModeQuery
	DefaultTokenParam        = "token"
	DefaultDedupWindow       = 10 * time.Second
	DefaultToastRate         = 1.0
	DefaultToastBurst        = 5
	DefaultQueueSize         = 100
	DefaultNetworkDebounce   = 500 * time.Millisecond
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Auth modes.
const (
	AuthModeQuery  = "query"
	AuthModeHeader = "header"
)

// Default returns a config with every default applied and no URL.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	// Transport defaults
	t := &c.Transport
	if t.RetryDelay == 0 {
		t.RetryDelay = Duration(DefaultRetryDelay)
	}
	if t.MaxRetryDelay == 0 {
		t.MaxRetryDelay = Duration(DefaultMaxRetryDelay)
	}
	if t.BackoffMultiplier == 0 {
		t.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if t.JitterRatio == nil {
		j := DefaultJitterRatio
		t.JitterRatio = &j
	}
	if t.HeartbeatInterval == 0 {
		t.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
	if t.HeartbeatTimeout == 0 {
		t.HeartbeatTimeout = Duration(DefaultHeartbeatTimeout)
	}
	if t.ConnectTimeout == 0 {
		t.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if t.AuthMode == "" {
		t.AuthMode = DefaultAuthMode
	}
	if t.TokenParam == "" {
		t.TokenParam = DefaultTokenParam
	}

	// Notification defaults
	n := &c.Notifications
	if n.DedupWindow == 0 {
		n.DedupWindow = Duration(DefaultDedupWindow)
	}
	if n.ToastRate == 0 {
		n.ToastRate = DefaultToastRate
	}
	if n.ToastBurst == 0 {
		n.ToastBurst = DefaultToastBurst
	}
	if n.QueueSize == 0 {
		n.QueueSize = DefaultQueueSize
	}

	if c.Network.Debounce == 0 {
		c.Network.Debounce = Duration(DefaultNetworkDebounce)
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
