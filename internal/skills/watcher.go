package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps the registry in sync with skill records edited on disk
// while the process runs, so the editor surface and a text editor can
// both change skills without a restart.
type Watcher struct {
	store    *FileStore
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	// Debounce burst writes: editors fire several events per save.
	debounceMu  sync.Mutex
	debounceMap map[string]time.Time
	debounceDur time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
	stopMu sync.Mutex
}

// NewWatcher creates a watcher over the store's directory.
func NewWatcher(store *FileStore, registry *Registry, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:       store,
		registry:    registry,
		watcher:     fsw,
		logger:      logger,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It returns after registering the directory; the
// event loop runs until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.store.Dir()); err != nil {
		return err
	}
	w.logger.Info("watching skills directory", zap.String("dir", w.store.Dir()))
	go w.run(ctx)
	return nil
}

// Stop shuts down the event loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopMu.Lock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.stopMu.Unlock()
	<-w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("skills watcher error", zap.Error(err))
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	// Skip the store's own temp files mid-rename.
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0:
		w.debounceMu.Lock()
		w.debounceMap[event.Name] = time.Now()
		w.debounceMu.Unlock()
	case event.Op&fsnotify.Remove != 0:
		w.handleRemoved(event.Name)
	}
}

func (w *Watcher) processDebounced() {
	now := time.Now()
	var ready []string
	w.debounceMu.Lock()
	for path, stamp := range w.debounceMap {
		if now.Sub(stamp) >= w.debounceDur {
			ready = append(ready, path)
			delete(w.debounceMap, path)
		}
	}
	w.debounceMu.Unlock()

	for _, path := range ready {
		w.reload(path)
	}
}

// reload re-reads one record and upserts it. A rename away leaves no file
// behind, in which case the event is treated as a removal.
func (w *Watcher) reload(path string) {
	s, err := w.store.readRecord(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.handleRemoved(path)
			return
		}
		w.logger.Warn("skill record changed but does not load",
			zap.String("file", filepath.Base(path)), zap.Error(err))
		return
	}
	if err := w.registry.upsert(s); err != nil {
		w.logger.Warn("skill record changed but does not validate",
			zap.String("file", filepath.Base(path)), zap.Error(err))
		return
	}
	w.logger.Info("reloaded skill from disk", zap.String("name", s.Name))
}

func (w *Watcher) handleRemoved(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	if w.registry.dropLoaded(name) {
		w.logger.Info("dropped skill removed on disk", zap.String("name", name))
	}
}
