// Package watcher ingests plain-text files dropped into watched directories,
// using fsnotify with write debouncing.
package watcher

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

const defaultDebounce = 400 * time.Millisecond

// Watcher watches drop folders and invokes callbacks on file changes. Only
// files matching the configured extensions are reported; everything else in
// the folder is ignored.
type Watcher struct {
	roots      []string
	extensions []string
	onIngest   func(path string)
	onRemove   func(path string)
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	pending    map[string]*time.Timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the write-settle delay before a file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. onIngest fires after a created or
// written file settles; onRemove fires when a matching file disappears.
func New(roots []string, extensions []string, onIngest, onRemove func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		roots:      roots,
		extensions: extensions,
		onIngest:   onIngest,
		onRemove:   onRemove,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching and ingests files already present in the roots. It
// runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.started = true
	for _, root := range w.roots {
		if err := fw.Add(root); err != nil {
			_ = fw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()

	w.logger.Debug("watcher starting",
		zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions))

	for _, root := range w.roots {
		w.syncRoot(root)
	}
	go w.run(ctx)
	return nil
}

// run drains fsnotify events until shutdown.
func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.matchExtension(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		w.scheduleIngest(path)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.onRemove != nil {
			w.onRemove(path)
		}
	}
}

// scheduleIngest (re)arms the debounce timer for path, so a file being
// written in several bursts is ingested once, after the last write.
func (w *Watcher) scheduleIngest(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if w.onIngest != nil {
			w.onIngest(path)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
}

// syncRoot ingests matching files already sitting in the root at startup.
func (w *Watcher) syncRoot(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		w.logger.Debug("watcher sync failed", zap.String("root", root), zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if w.matchExtension(path) && w.onIngest != nil {
			w.onIngest(path)
		}
	}
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}
