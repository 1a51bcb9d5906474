package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Transport.validate("transport"); err != nil {
		return err
	}

	n := c.Notifications
	if n.DedupWindow < 0 {
		return errors.New("notifications.dedup_window must be >= 0")
	}
	if n.ToastBurst < 1 {
		return errors.New("notifications.toast_burst must be >= 1")
	}
	if n.QueueSize < 1 {
		return errors.New("notifications.queue_size must be >= 1")
	}
	for i, ns := range n.Namespaces {
		if strings.TrimSpace(ns) == "" {
			return fmt.Errorf("notifications.namespaces[%d] is empty", i)
		}
	}

	if c.Network.Debounce < 0 {
		return errors.New("network.debounce must be >= 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (t *TransportConfig) validate(prefix string) error {
	if t.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%s.url scheme must be ws or wss, got %q", prefix, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s.url has no host", prefix)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("%s.max_retries must be >= 0", prefix)
	}
	if t.RetryDelay <= 0 {
		return fmt.Errorf("%s.retry_delay must be > 0", prefix)
	}
	if t.MaxRetryDelay < t.RetryDelay {
		return fmt.Errorf("%s.max_retry_delay (%s) cannot be less than retry_delay (%s)",
			prefix, t.MaxRetryDelay.Std(), t.RetryDelay.Std())
	}
	if t.BackoffMultiplier < 1 {
		return fmt.Errorf("%s.backoff_multiplier must be >= 1", prefix)
	}
	if t.JitterRatio != nil && (*t.JitterRatio < 0 || *t.JitterRatio > 1) {
		return fmt.Errorf("%s.jitter_ratio must be between 0 and 1, got %g", prefix, *t.JitterRatio)
	}
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s.heartbeat_interval must be > 0", prefix)
	}
	if t.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%s.heartbeat_timeout must be > 0", prefix)
	}
	if t.ConnectTimeout <= 0 {
		return fmt.Errorf("%s.connect_timeout must be > 0", prefix)
	}

	switch t.AuthMode {
	case AuthModeQuery, AuthModeHeader:
	default:
		return fmt.Errorf("%s.auth_mode must be query or header, got %q", prefix, t.AuthMode)
	}
	if t.TokenFile != "" && t.TokenEnv != "" {
		return fmt.Errorf("%s.token_file and %s.token_env are mutually exclusive", prefix, prefix)
	}
	return nil
}
