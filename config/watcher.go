package config

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// Config file watcher
// =============================================================================

// Watcher polls the config file for modification-time changes and reloads
// it through the given loader, invoking callbacks with the fresh Config.
// A reload that fails validation is logged and dropped; the previous
// configuration stays active.
type Watcher struct {
	loader   *Loader
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(*Config)
	lastMod   time.Time
	stopCh    chan struct{}
	running   bool
}

// NewWatcher creates a watcher for path, reloading through loader.
func NewWatcher(loader *Loader, path string, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		loader:   loader.WithConfigPath(path),
		path:     path,
		interval: interval,
		logger:   logger.With(zap.String("component", "config_watcher")),
	}
}

// OnReload registers a callback invoked with each successfully reloaded
// configuration.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start begins polling. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	go w.pollLoop(w.stopCh)
}

// Stop halts polling.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
}

func (w *Watcher) pollLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *Watcher) checkOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	callbacks := w.callbacks
	w.mu.Unlock()

	if !changed {
		return
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
