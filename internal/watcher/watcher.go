// Package watcher turns file system changes into maintenance submissions.
// It monitors a set of directory trees and hands debounced batches of changed
// paths to the host, which typically queues a reindex item per batch.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Config configures the file watcher.
type Config struct {
	// Paths are the directory trees to watch.
	Paths []string
	// DebounceMs is the quiet period before a change batch fires
	// (default: 500).
	DebounceMs int
	// IgnoreDirs are directory names skipped while walking and watching
	// (default: .git, .modegate, node_modules).
	IgnoreDirs []string
	// Logger receives watch diagnostics. Nil uses the default logger.
	Logger *slog.Logger
}

// Watcher monitors directory trees and reports debounced change batches.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	ignore    map[string]struct{}
	logger    *slog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a watcher over cfg.Paths. onChange receives each debounced
// batch of changed paths; it is called from the debouncer's timer goroutine.
func New(cfg Config, onChange func(paths []string)) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	if onChange == nil {
		return nil, fmt.Errorf("nil change callback")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	ignoreDirs := cfg.IgnoreDirs
	if ignoreDirs == nil {
		ignoreDirs = []string{".git", ".modegate", "node_modules"}
	}
	ignore := make(map[string]struct{}, len(ignoreDirs))
	for _, d := range ignoreDirs {
		ignore[d] = struct{}{}
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(cfg.DebounceMs, onChange),
		ignore:    ignore,
		logger:    logger,
		done:      make(chan struct{}),
	}

	for _, root := range cfg.Paths {
		if err := w.addTree(root); err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start begins delivering change batches until Stop is called.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop flushes the pending batch and shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsWatcher.Close()
		w.wg.Wait()
		w.debouncer.Flush()
		w.debouncer.Stop()
	})
}

// addTree registers root and all its non-ignored subdirectories.
func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat watch path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch path %s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := w.ignore[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}

	// New directories join the watch so nested changes keep arriving.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.logger.Debug("file changed", "path", event.Name, "op", event.Op.String())
		w.debouncer.Trigger(event.Name)
	}
}

func (w *Watcher) ignored(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, skip := w.ignore[part]; skip {
			return true
		}
	}
	return false
}
