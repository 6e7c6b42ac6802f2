package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// ReloadCallback is invoked with the freshly reloaded config after the
// watched file settles (see debouncePeriod below).
type ReloadCallback func(*Config) error

// Watcher watches the slave's TOML config file for changes and reloads it,
// debouncing rapid writes from an editor's save-then-rewrite sequence.
// Grounded on the teacher's am.ConfigWatcher.
type Watcher struct {
	path      string
	fsw       *fsnotify.Watcher
	mu        sync.RWMutex
	callbacks []ReloadCallback

	debounceMu     sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration

	done chan struct{}
}

// NewWatcher creates a watcher on the given config file path.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch directory of %s", path)
	}

	return &Watcher{
		path:           path,
		fsw:            fsw,
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// OnReload registers a callback fired after the config file is reloaded.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop releases the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Named("config").Warnw("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Named("config").Errorw("config reload failed", "error", err)
		return
	}

	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			logger.Named("config").Warnw("config reload callback failed", "error", err)
		}
	}
}
