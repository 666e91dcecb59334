package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/opsbridge/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

// debounceDelay coalesces rapid write events from editors that save in
// multiple steps (write + rename).
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the config file on change and invokes a callback with
// the freshly parsed result. Parse failures keep the previous config.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewWatcher creates a watcher for the given config file path.
// Call Start() in a goroutine.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins watching. Blocks until Stop is called.
func (w *Watcher) Start() {
	// Watch the parent directory: editors replace files by rename, which
	// drops a watch placed on the file itself.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		configLog.Warn("config_watch_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		configLog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	configLog.Info("config_reloaded", slog.String("path", w.path))
	w.onReload(cfg)
}

// Stop shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	w.closeOnce.Do(func() {
		w.cancel()
		w.watcher.Close()
	})
}
