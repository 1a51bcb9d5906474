// Package netwatch turns filesystem changes to network state files into
// debounced network-change signals.
//
// On Linux, files such as /etc/resolv.conf or /run/systemd/netif/state are
// rewritten when interfaces come up, go down or switch networks.
package netwatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of writes into one signal.
const DefaultDebounce = 500 * time.Millisecond

// DefaultPaths are watched when no paths are configured.
var DefaultPaths = []string{"/etc/resolv.conf"}

// Watcher calls OnChange after any watched file changes.
type Watcher struct {
	paths    []string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	fired int64
}

// New creates a Watcher. onChange runs on a timer goroutine.
func New(paths []string, debounce time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		paths:    paths,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run watches until ctx is done. Files are matched by name inside their
// parent directory so that atomic replace (write temp, rename) is seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	defer w.stop()

	targets := make(map[string]struct{}, len(w.paths))
	dirs := make(map[string]struct{})
	for _, p := range w.paths {
		p = filepath.Clean(p)
		targets[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}

	added := 0
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		return errors.New("netwatch: no watchable paths")
	}

	w.logger.Info("network watcher started", "paths", w.paths, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("netwatch: event channel closed")
			}
			if _, watched := targets[filepath.Clean(ev.Name)]; !watched {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.logger.Debug("network state file changed", "path", ev.Name, "op", ev.Op.String())
				w.schedule()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("netwatch: error channel closed")
			}
			// Missed events may hide a change; signal once.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.schedule()
				continue
			}
			w.logger.Warn("network watch error", "error", err)
		}
	}
}

// Fired returns how many signals have been delivered.
func (w *Watcher) Fired() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.fired++
	w.timer = nil
	w.mu.Unlock()

	w.logger.Info("network change detected")
	if w.onChange != nil {
		w.onChange()
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
