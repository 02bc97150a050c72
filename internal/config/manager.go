package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs editor write bursts into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Manager loads the configuration file and keeps the active Config
// behind an atomic pointer so readers never block on a reload.
type Manager struct {
	active    atomic.Pointer[Config]
	path      string
	watcher   *fsnotify.Watcher
	listeners []func(*Config)
	logger    *slog.Logger
}

// NewManager loads the file at path and returns a manager serving it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	m := &Manager{path: path, logger: logger}
	m.active.Store(cfg)
	return m, nil
}

// Get returns the active configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.active.Load()
}

// OnChange registers a callback invoked after each successful reload.
// Registration is not safe once Watch has been started.
func (m *Manager) OnChange(fn func(*Config)) {
	m.listeners = append(m.listeners, fn)
}

// Watch follows the configuration file until ctx is cancelled. A file
// that fails to parse or validate leaves the active config untouched.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.path); err != nil {
		_ = w.Close()
		return err
	}
	m.watcher = w

	go m.follow(ctx)
	return nil
}

func (m *Manager) follow(ctx context.Context) {
	var pending *time.Timer
	stopPending := func() {
		if pending != nil {
			pending.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopPending()
			_ = m.watcher.Close()
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			stopPending()
			pending = time.AfterFunc(reloadDebounce, m.reload)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	cfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("config reload failed, keeping current", "path", m.path, "error", err)
		return
	}

	m.active.Store(cfg)
	m.logger.Info("configuration reloaded", "path", m.path)

	for _, fn := range m.listeners {
		fn(cfg)
	}
}

// Close stops the file watcher if one is running.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Close()
}
