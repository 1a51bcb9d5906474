// Package config loads livefeed configuration from YAML or TOML files.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Transport     TransportConfig     `yaml:"transport" toml:"transport"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Status        StatusConfig        `yaml:"status" toml:"status"`
	Network       NetworkConfig       `yaml:"network" toml:"network"`
	Log           LogConfig           `yaml:"log" toml:"log"`
}

// TransportConfig holds the live feed connection settings.
type TransportConfig struct {
	URL               string   `yaml:"url" toml:"url"`
	MaxRetries        int      `yaml:"max_retries" toml:"max_retries"` // 0 = unlimited
	RetryDelay        Duration `yaml:"retry_delay" toml:"retry_delay"`
	MaxRetryDelay     Duration `yaml:"max_retry_delay" toml:"max_retry_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	JitterRatio       *float64 `yaml:"jitter_ratio" toml:"jitter_ratio"` // nil = default, 0 disables
	HeartbeatInterval Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
	ConnectTimeout    Duration `yaml:"connect_timeout" toml:"connect_timeout"`

	Token      string `yaml:"token" toml:"token"`
	TokenFile  string `yaml:"token_file" toml:"token_file"` // re-read on every attempt
	TokenEnv   string `yaml:"token_env" toml:"token_env"`
	AuthMode   string `yaml:"auth_mode" toml:"auth_mode"` // query or header
	TokenParam string `yaml:"token_param" toml:"token_param"`
}

// NotificationsConfig holds notification router settings.
type NotificationsConfig struct {
	Namespaces  []string `yaml:"namespaces" toml:"namespaces"`
	DedupWindow Duration `yaml:"dedup_window" toml:"dedup_window"`
	ToastRate   float64  `yaml:"toast_rate" toml:"toast_rate"`
	ToastBurst  int      `yaml:"toast_burst" toml:"toast_burst"`
	QueueSize   int      `yaml:"queue_size" toml:"queue_size"`
}

// StatusConfig holds the status endpoint settings.
type StatusConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // empty disables the server
}

// NetworkConfig holds network change detection settings.
type NetworkConfig struct {
	WatchPaths []string `yaml:"watch_paths" toml:"watch_paths"` // empty disables watching
	Debounce   Duration `yaml:"debounce" toml:"debounce"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json
}

// Duration is a time.Duration written as a string such as "1.5s" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
