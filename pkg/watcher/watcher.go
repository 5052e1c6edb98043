package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// watcher implements the Watcher interface using fsnotify.
type watcher struct {
	fsw    *fsnotify.Watcher
	logger logger.Logger
	config Config

	events chan Event
	errors chan error

	mu       sync.RWMutex
	running  bool
	stopped  bool
	closed   bool
	stopChan chan struct{}
	loopDone sync.WaitGroup

	root string
	// dirs holds every directory registered with fsnotify, so that remove
	// and rename events (which can no longer be stat'ed) are classified.
	dirs map[string]bool

	failureCount int
}

// New creates a new filesystem watcher.
func New(cfg Config, log logger.Logger) (Watcher, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &watcher{
		fsw:      fsw,
		logger:   log,
		config:   cfg,
		events:   make(chan Event, cfg.BufferSize),
		errors:   make(chan error, 10),
		stopChan: make(chan struct{}),
		dirs:     make(map[string]bool),
	}

	log.Debug("file watcher created",
		"recursive", cfg.Recursive,
		"buffer_size", cfg.BufferSize)

	return w, nil
}

// Start implements Watcher.Start.
func (w *watcher) Start(ctx context.Context, root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.running || w.stopped {
		return ErrAlreadyStarted
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, absRoot)
	}
	w.root = absRoot

	if w.config.Recursive {
		err = w.addRecursive(absRoot)
	} else {
		err = w.addDir(absRoot)
	}
	if err != nil {
		return fmt.Errorf("failed to add path %s: %w", absRoot, err)
	}

	w.running = true
	w.loopDone.Add(1)
	go w.processEvents(ctx)

	w.logger.Info("watcher started",
		"root", absRoot,
		"directories", len(w.dirs))

	return nil
}

// Stop implements Watcher.Stop.
func (w *watcher) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	if !w.running {
		w.mu.Unlock()
		return ErrNotStarted
	}
	close(w.stopChan)
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	w.loopDone.Wait()
	w.logger.Info("watcher stopped")
	return nil
}

// Events implements Watcher.Events.
func (w *watcher) Events() <-chan Event {
	return w.events
}

// Errors implements Watcher.Errors.
func (w *watcher) Errors() <-chan error {
	return w.errors
}

// Close implements Watcher.Close.
func (w *watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.running {
		close(w.stopChan)
		w.running = false
		w.stopped = true
	}
	w.mu.Unlock()

	// The loop is the only sender; channels close after it returned.
	w.loopDone.Wait()
	close(w.events)
	close(w.errors)

	if err := w.fsw.Close(); err != nil {
		w.logger.Error("failed to close fsnotify watcher", "error", err)
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Debug("watcher closed")
	return nil
}

// processEvents handles events from fsnotify.
func (w *watcher) processEvents(ctx context.Context) {
	defer w.loopDone.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("event processing stopped", "reason", "context cancelled")
			return

		case <-w.stopChan:
			w.logger.Debug("event processing stopped", "reason", "stop signal")
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				w.logger.Warn("fsnotify events channel closed")
				return
			}

			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.logger.Warn("fsnotify errors channel closed")
				return
			}

			w.handleError(err)
		}
	}
}

// handleEvent converts a single fsnotify event and forwards it.
func (w *watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	var op Op
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		op = OpCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		op = OpWrite
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		op = OpRemove
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		op = OpRename
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		op = OpChmod
	default:
		w.logger.Debug("unknown fsnotify operation",
			"op", event.Op,
			"path", event.Name)
		return
	}

	if (op == OpRemove || op == OpRename) && event.Name == w.root {
		w.logger.Error("watch root removed", "root", w.root, "op", op)
		select {
		case w.errors <- ErrRootRemoved:
		default:
			w.logger.Warn("error channel full, dropping error")
		}
		return
	}

	isDir := w.classify(event.Name, op)

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}

	ev := Event{
		Path:      filepath.ToSlash(rel),
		AbsPath:   event.Name,
		Op:        op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	}

	select {
	case w.events <- ev:
	case <-w.stopChan:
	case <-ctx.Done():
	}
}

// classify reports whether path is a directory and keeps the registered
// directory set in sync with the tree.
func (w *watcher) classify(path string, op Op) bool {
	switch op {
	case OpRemove, OpRename:
		w.mu.Lock()
		known := w.dirs[path]
		delete(w.dirs, path)
		w.mu.Unlock()
		return known
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return false
	}

	if op == OpCreate && w.config.Recursive {
		w.mu.Lock()
		if addErr := w.addRecursive(path); addErr != nil {
			w.logger.Warn("failed to watch new directory",
				"path", path,
				"error", addErr)
		}
		w.mu.Unlock()
	}
	return true
}

// handleError processes fsnotify errors with circuit breaker pattern.
func (w *watcher) handleError(err error) {
	w.failureCount++

	w.logger.Error("fsnotify error",
		"error", err,
		"failure_count", w.failureCount)

	if w.failureCount > w.config.CircuitBreakerThreshold {
		return
	}

	if w.failureCount == w.config.CircuitBreakerThreshold {
		w.logger.Error("circuit breaker opened",
			"threshold", w.config.CircuitBreakerThreshold)
		err = ErrCircuitBreakerOpen
	}

	select {
	case w.errors <- err:
	default:
		w.logger.Warn("error channel full, dropping error")
	}
}

// addDir registers a single directory. Callers hold w.mu.
func (w *watcher) addDir(path string) error {
	if w.dirs[path] {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.dirs[path] = true
	w.logger.Debug("added watch directory", "path", path)
	return nil
}

// addRecursive registers path and all directories below it. Callers hold w.mu.
func (w *watcher) addRecursive(path string) error {
	if err := w.addDir(path); err != nil {
		return fmt.Errorf("failed to add path: %w", err)
	}

	return filepath.WalkDir(path, func(subPath string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("error walking path",
				"path", subPath,
				"error", err)
			return nil // Skip but continue walking.
		}

		if !d.IsDir() || subPath == path {
			return nil
		}

		if addErr := w.addDir(subPath); addErr != nil {
			w.logger.Warn("failed to add subdirectory",
				"path", subPath,
				"error", addErr)
		}
		return nil
	})
}
