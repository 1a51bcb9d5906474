package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/livefeed/internal/config"
	"github.com/rickgao/livefeed/internal/status"
)

var (
	statusAddr string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection status of a running watcher",
	Long:  "Fetches /status from a running 'livefeed watch'. The address defaults to status.addr in the config file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusAddr
		if addr == "" {
			cfg, err := config.LoadWithDefaults(configPath)
			if err != nil {
				return fmt.Errorf("no --addr given and config unreadable: %w", err)
			}
			addr = cfg.Status.Addr
		}
		if addr == "" {
			return fmt.Errorf("status server address not set (use --addr or status.addr)")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		report, err := status.Fetch(ctx, nil, baseURL(addr))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Fprintf(out, "%-14s %s\n", report.Indicator, report.URL)
		fmt.Fprintf(out, "  state:     %s\n", report.State)
		fmt.Fprintf(out, "  attempts:  %d\n", report.ReconnectAttempts)
		if report.LastError != nil {
			fmt.Fprintf(out, "  lastError: %s\n", *report.LastError)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "status server address (host:port or URL)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw JSON report")
	rootCmd.AddCommand(statusCmd)
}

// baseURL accepts "host:port", ":port" or a full URL.
func baseURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return addr
	case strings.HasPrefix(addr, ":"):
		return "http://127.0.0.1" + addr
	default:
		return "http://" + addr
	}
}
