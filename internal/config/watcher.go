package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductd/internal/gate"
)

// debounceDelay coalesces the event bursts editors produce on save.
const debounceDelay = 100 * time.Millisecond

// Watcher reloads the pipeline file on change and publishes the revised
// gate rules to a rule source. A broken edit is logged and skipped; the
// previously published rules stay active.
type Watcher struct {
	path   string
	source *gate.Source
	logger *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a pipeline file watcher. A nil logger is replaced
// with a nop.
func NewWatcher(path string, source *gate.Source, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watcher: pipeline path is required")
	}
	if source == nil {
		return nil, fmt.Errorf("watcher: rule source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, source: source, logger: logger}, nil
}

// Start begins watching the pipeline file. The parent directory is
// watched, not the file itself: atomic-rename saves replace the inode
// and would silently drop a direct file watch.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("watcher: already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watcher: watching %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(fsw, w.stopCh, w.doneCh)

	w.logger.Info("pipeline watcher started", zap.String("path", w.path))
	return nil
}

// Stop stops watching. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
	w.watcher = nil

	w.logger.Info("pipeline watcher stopped")
}

func (w *Watcher) run(fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-stopCh:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				debounce.Reset(debounceDelay)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("pipeline watcher error", zap.Error(err))
		}
	}
}

// reload parses the pipeline file and publishes its gate rules as the
// next rule version.
func (w *Watcher) reload() {
	pipe, err := LoadPipeline(w.path)
	if err != nil {
		w.logger.Error("pipeline reload failed, keeping active rules",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	rs := pipe.Rules("")
	rs.Version = w.source.Current().Version + 1
	if err := w.source.Publish(rs); err != nil {
		w.logger.Error("failed to publish reloaded rules", zap.Error(err))
		return
	}

	w.logger.Info("gate rules reloaded",
		zap.String("path", w.path),
		zap.Int("version", rs.Version),
		zap.Int("rules", len(rs.Rules)))
}
