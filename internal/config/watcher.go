package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// DefaultDebounce groups the burst of events an editor produces on save
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the configuration when its file changes on disk
type Watcher struct {
	manager  *ConfigManager
	path     string
	debounce time.Duration
	logger   hclog.Logger

	fsw *fsnotify.Watcher
	wg  sync.WaitGroup

	mu      sync.Mutex
	pending *time.Timer
	onError func(error)
}

// NewWatcher watches the directory holding the manager's config file.
// The directory is watched rather than the file so that editors that
// replace the file on save are still seen.
func NewWatcher(manager *ConfigManager, debounce time.Duration, logger hclog.Logger) (*Watcher, error) {
	path := manager.Path()
	if path == "" {
		return nil, fmt.Errorf("no config path set")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		manager:  manager,
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger.Named("config-watcher"),
		fsw:      fsw,
	}, nil
}

// OnError sets a callback for reloads that fail validation or parsing
func (w *Watcher) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

// Start processes file events until ctx is done or Close is called
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "error", err)
			}
		}
	}()
}

// Close stops watching and cancels any pending reload
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.logger.Debug("config file event", "operation", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	if !fileExists(w.path) {
		return
	}
	if err := w.manager.LoadConfig(w.path); err != nil {
		w.logger.Error("config reload failed, keeping previous configuration", "error", err)
		w.mu.Lock()
		onError := w.onError
		w.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
}
