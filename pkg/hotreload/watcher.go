// Package hotreload watches a configuration file and reports changes.
package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches one file and calls OnChange after writes settle.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onChange func(path string)
	watcher  *fsnotify.Watcher
	running  atomic.Bool
	stats    WatcherStats
}

// WatcherStats tracks change notifications.
type WatcherStats struct {
	mu         sync.RWMutex
	Changes    int64
	LastChange time.Time
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	Path     string
	Debounce time.Duration // Debounce period for rapid changes
	OnChange func(path string)
}

func NewFileWatcher(config WatcherConfig) (*FileWatcher, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if config.OnChange == nil {
		return nil, fmt.Errorf("change handler is required")
	}
	path, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, err
	}
	debounce := config.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	return &FileWatcher{path: path, debounce: debounce, onChange: config.OnChange}, nil
}

// Start begins watching. It returns once the watch is registered; events are
// processed until ctx is done.
func (w *FileWatcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Editors often replace files via rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		w.running.Store(false)
		return fmt.Errorf("watching directory: %w", err)
	}
	w.watcher = watcher

	go w.processEvents(ctx)
	return nil
}

func (w *FileWatcher) processEvents(ctx context.Context) {
	defer func() {
		w.watcher.Close()
		w.running.Store(false)
	}()

	var pending time.Time
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case now := <-ticker.C:
			if pending.IsZero() || now.Sub(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.stats.mu.Lock()
			w.stats.Changes++
			w.stats.LastChange = now
			w.stats.mu.Unlock()
			w.onChange(w.path)
		}
	}
}

// Changes returns how many debounced changes were reported.
func (w *FileWatcher) Changes() int64 {
	w.stats.mu.RLock()
	defer w.stats.mu.RUnlock()
	return w.stats.Changes
}

// IsRunning returns whether the watcher is active.
func (w *FileWatcher) IsRunning() bool {
	return w.running.Load()
}
