// Package appmonitor reports changes to installed applications and search
// provider descriptors.
package appmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDelay is how long a burst of changes is coalesced.
const DefaultDelay = 500 * time.Millisecond

// Config configures a Monitor.
type Config struct {
	// Dirs are watched non-recursively. Missing ones are skipped.
	Dirs []string

	// Delay coalesces bursts (default DefaultDelay)
	Delay time.Duration

	// OnChange is called once per coalesced burst, from the Run goroutine.
	OnChange func()

	Logger *slog.Logger
}

// Monitor watches directories and calls OnChange when their content changes.
type Monitor struct {
	dirs     []string
	delay    time.Duration
	onChange func()
	logger   *slog.Logger
}

// New creates a monitor. It does not watch anything until Run is called.
func New(cfg Config) *Monitor {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func() {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		dirs:     cfg.Dirs,
		delay:    cfg.Delay,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
	}
}

// Run watches until ctx is done. It returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range m.dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			m.logger.Debug("not watching missing directory", "dir", dir)
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.logger.Warn("failed to watch directory", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	m.logger.Debug("app monitor started", "dirs", watched)

	// Reset discards a pending fire, so the timer needs no draining.
	timer := time.NewTimer(m.delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			m.logger.Debug("watched file changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(m.delay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("app monitor error", "error", err)

		case <-timer.C:
			m.onChange()
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
