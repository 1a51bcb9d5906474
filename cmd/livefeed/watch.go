package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livefeed/internal/client"
	"github.com/rickgao/livefeed/internal/config"
	"github.com/rickgao/livefeed/internal/connection"
	"github.com/rickgao/livefeed/internal/netwatch"
	"github.com/rickgao/livefeed/internal/notification"
	"github.com/rickgao/livefeed/internal/protocol"
	"github.com/rickgao/livefeed/internal/status"
	"github.com/rickgao/livefeed/internal/version"
)

// riskAlertChannel is logged at warn level in addition to normal routing.
const riskAlertChannel = "risk:alert"

var watchURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to the feed and log notifications until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithDefaults(configPath)
		if err != nil {
			return err
		}
		if watchURL != "" {
			cfg.Transport.URL = watchURL
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := newLogger(cfg.Log, cmd.OutOrStdout())
		slog.SetDefault(logger)

		logger.Info("starting livefeed",
			"version", version.Version,
			"commit", version.Commit,
			"config", configPath,
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return watch(ctx, cfg, logger, nil)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "override transport.url")
	rootCmd.AddCommand(watchCmd)
}

// watch runs the client, router, status server and network watcher until ctx
// is done. A nil dialer uses the websocket dialer.
func watch(ctx context.Context, cfg *config.Config, logger *slog.Logger, dialer connection.Dialer) error {
	connCfg := connectionConfig(cfg.Transport)
	connCfg.OnStateChange = func(ev connection.StateEvent) {
		if ev.To == connection.StateError {
			logger.Error("feed connection gave up; restart to retry",
				"attempts", ev.Attempt,
				"error", ev.Err,
			)
		}
	}

	opts := []client.Option{client.WithLogger(logger)}
	if dialer != nil {
		opts = append(opts, client.WithDialer(dialer))
	}
	c, err := client.New(connCfg, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	presenter := notification.NewAsyncPresenter(
		notification.PresenterFunc(func(t notification.Toast) {
			logger.Info("toast",
				"title", t.Title,
				"message", t.Message,
				"severity", t.Severity,
				"priority", t.Priority,
				"action_url", t.ActionURL,
			)
		}),
		cfg.Notifications.QueueSize,
		logger.With("component", "presenter"),
	)

	router := notification.New(c, routerConfig(cfg.Notifications),
		notification.WithPresenter(presenter),
		notification.WithInvalidator(notification.InvalidatorFunc(func(key string) {
			logger.Info("cache invalidated", "key", key)
		})),
		notification.WithLogger(logger.With("component", "router")),
	)
	defer router.Stop()

	c.Subscribe(riskAlertChannel, func(f protocol.Frame) {
		logger.Warn("risk alert", "type", f.Type, "data", string(f.Data))
	})

	g, gctx := errgroup.WithContext(ctx)

	components := []status.Component{
		{Name: "client", Stats: func() any { return c.Stats() }},
		{Name: "router", Stats: func() any { return router.Stats() }},
		{Name: "presenter", Stats: func() any { return presenter.Stats() }},
	}

	if len(cfg.Network.WatchPaths) > 0 {
		w := netwatch.New(cfg.Network.WatchPaths, cfg.Network.Debounce.Std(), c.NetworkChanged, logger.With("component", "netwatch"))
		components = append(components, status.Component{
			Name:  "netwatch",
			Stats: func() any { return map[string]int64{"fired": w.Fired()} },
		})
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				logger.Warn("network watcher stopped", "error", err)
			}
			return nil
		})
	}

	if cfg.Status.Addr != "" {
		h := status.Handler(c, logger, components...)
		g.Go(func() error {
			return status.Serve(gctx, cfg.Status.Addr, h, logger)
		})
	}

	c.Connect()

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	logger.Info("shutting down")
	c.Disconnect()
	router.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := presenter.Close(shutdownCtx); cerr != nil {
		logger.Warn("presenter did not drain", "error", cerr)
	}

	return err
}
