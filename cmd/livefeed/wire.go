package main

import (
	"github.com/rickgao/livefeed/internal/auth"
	"github.com/rickgao/livefeed/internal/config"
	"github.com/rickgao/livefeed/internal/connection"
	"github.com/rickgao/livefeed/internal/notification"
)

// connectionConfig maps the transport section onto a connection.Config.
func connectionConfig(t config.TransportConfig) connection.Config {
	cc := connection.DefaultConfig(t.URL)

	cc.Policy = connection.ReconnectPolicy{
		MaxRetries: t.MaxRetries,
		BaseDelay:  t.RetryDelay.Std(),
		Multiplier: t.BackoffMultiplier,
		MaxDelay:   t.MaxRetryDelay.Std(),
	}
	if t.JitterRatio != nil {
		cc.Policy.JitterRatio = *t.JitterRatio
	}
	cc.Heartbeat = connection.HeartbeatConfig{
		Interval: t.HeartbeatInterval.Std(),
		Timeout:  t.HeartbeatTimeout.Std(),
	}
	cc.ConnectTimeout = t.ConnectTimeout.Std()

	cc.TokenProvider = auth.Select(t.Token, t.TokenFile, t.TokenEnv)
	cc.TokenParam = t.TokenParam
	if t.AuthMode == config.AuthModeHeader {
		cc.AuthMode = connection.AuthHeader
	}
	return cc
}

// routerConfig maps the notifications section onto a notification.Config.
func routerConfig(n config.NotificationsConfig) notification.Config {
	return notification.Config{
		Namespaces:  n.Namespaces,
		DedupWindow: n.DedupWindow.Std(),
		ToastRate:   n.ToastRate,
		ToastBurst:  n.ToastBurst,
	}
}
