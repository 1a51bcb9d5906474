// Package status serves the connection status snapshot over HTTP.
//
// Endpoints:
//
//	GET /status  ConnectionInfo plus an indicator label and component stats
//	GET /health  200 while connected, 503 otherwise
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/livefeed/internal/connection"
)

// Source provides the connection snapshot.
type Source interface {
	ConnectionInfo() connection.Info
}

// Component contributes a named stats object to /status.
type Component struct {
	Name  string
	Stats func() any
}

// Report is the /status response body.
type Report struct {
	connection.Info
	Indicator  string         `json:"indicator"`
	Components map[string]any `json:"components,omitempty"`
}

// Indicator returns the UI label for a connection state.
func Indicator(s connection.State) string {
	switch s {
	case connection.StateConnected:
		return "Live"
	case connection.StateConnecting:
		return "Connecting…"
	case connection.StateReconnecting:
		return "Reconnecting…"
	case connection.StateError:
		return "Error"
	default:
		return "Offline"
	}
}

// NewReport builds a report from src and components.
func NewReport(src Source, components ...Component) Report {
	info := src.ConnectionInfo()
	r := Report{
		Info:      info,
		Indicator: Indicator(info.State),
	}
	if len(components) > 0 {
		r.Components = make(map[string]any, len(components))
		for _, c := range components {
			r.Components[c.Name] = c.Stats()
		}
	}
	return r
}

// Handler returns the status mux.
func Handler(src Source, logger *slog.Logger, components ...Component) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, NewReport(src, components...), logger)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		info := src.ConnectionInfo()

		health := struct {
			Status    string           `json:"status"`
			State     connection.State `json:"connectionState"`
			LastError *string          `json:"lastError"`
		}{
			Status:    "healthy",
			State:     info.State,
			LastError: info.LastError,
		}

		code := http.StatusOK
		if !info.IsConnected {
			health.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write status response", "error", err)
	}
}

// Serve runs an HTTP server for h on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting status server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("status server stopped")
	return nil
}

// Fetch retrieves a report from a running status server at baseURL.
func Fetch(ctx context.Context, hc *http.Client, baseURL string) (Report, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return Report{}, err
	}

	resp, err := hc.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("fetch status: unexpected status %d", resp.StatusCode)
	}

	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Report{}, fmt.Errorf("decode status: %w", err)
	}
	return r, nil
}
