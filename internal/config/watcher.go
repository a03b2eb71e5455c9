package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lance13c/deltawatch/internal/logging"
)

// Holder gives concurrent readers the most recently loaded config
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder creates a holder seeded with cfg
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

// Get returns the current config. Callers must not mutate it.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set swaps in a new config
func (h *Holder) Set(cfg *Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	loader   *Loader
	holder   *Holder
	path     string
	debounce time.Duration

	// Callbacks
	onReload func(old, updated *Config)
}

// NewWatcher creates a watcher for the file the loader last read
func NewWatcher(loader *Loader, holder *Holder) (*Watcher, error) {
	path := loader.ConfigPath()
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	return &Watcher{
		loader:   loader,
		holder:   holder,
		path:     path,
		debounce: 500 * time.Millisecond,
	}, nil
}

// SetReloadCallback sets the function called after a successful reload
func (w *Watcher) SetReloadCallback(callback func(old, updated *Config)) {
	w.onReload = callback
}

// Start watches until ctx is done. Editors replace files atomically, so the
// parent directory is watched and events are filtered by name.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	logging.Info("Watching config file %s for changes", w.path)

	var pending bool
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logging.Warn("Config watcher error: %v", err)

		case <-timer.C:
			pending = false
			w.reload()
		}
	}
}

// reload loads the file again, keeping the old config if the new one is invalid
func (w *Watcher) reload() {
	updated, err := w.loader.Load()
	if err != nil {
		logging.Error("Config reload failed, keeping previous config: %v", err)
		return
	}

	old := w.holder.Get()
	w.holder.Set(updated)
	logging.Info("Config reloaded from %s", w.path)

	if w.onReload != nil {
		w.onReload(old, updated)
	}
}
