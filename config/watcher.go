// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听配置文件所在目录，不可用时退回轮询。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches a configuration file for changes.
type FileWatcher struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration
	pollInterval  time.Duration
	forcePolling  bool

	running  bool
	stopChan chan struct{}
	done     chan struct{}

	callbacks []func(FileEvent)
	timer     *time.Timer
	pending   FileEvent

	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPolling forces the polling fallback with the given interval
func WithPolling(interval time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.forcePolling = true
		w.pollInterval = interval
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	w := &FileWatcher{
		path:          absPath,
		debounceDelay: 100 * time.Millisecond,
		pollInterval:  time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(absPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", absPath, err)
		}
		w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", absPath))
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})

	var fsw *fsnotify.Watcher
	if !w.forcePolling {
		var err error
		fsw, err = fsnotify.NewWatcher()
		if err == nil {
			// 监听目录：编辑器通常以 rename 方式替换文件
			err = fsw.Add(filepath.Dir(w.path))
		}
		if err != nil {
			w.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
			if fsw != nil {
				_ = fsw.Close()
			}
			fsw = nil
		}
	}

	if fsw != nil {
		go w.notifyLoop(ctx, fsw)
	} else {
		go w.pollLoop(ctx)
	}
	w.running = true

	w.logger.Info("file watcher started",
		zap.String("path", w.path),
		zap.Bool("polling", fsw == nil),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher and waits for its loop to exit
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	close(w.stopChan)
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("file watcher stopped")
	return nil
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Path returns the watched path
func (w *FileWatcher) Path() string {
	return w.path
}

func (w *FileWatcher) notifyLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if op, ok := translateOp(ev.Op); ok {
				w.schedule(FileEvent{Path: w.path, Op: op, Timestamp: time.Now()})
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func translateOp(op fsnotify.Op) (FileOp, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate, true
	case op.Has(fsnotify.Write):
		return FileOpWrite, true
	case op.Has(fsnotify.Remove):
		return FileOpRemove, true
	case op.Has(fsnotify.Rename):
		return FileOpRename, true
	default:
		return 0, false
	}
}

// pollLoop polls the file for changes (fallback for systems without fsnotify)
func (w *FileWatcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	var lastMod time.Time
	exists := false
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
		exists = true
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			switch {
			case err != nil && exists:
				exists = false
				w.schedule(FileEvent{Path: w.path, Op: FileOpRemove, Timestamp: time.Now()})
			case err == nil && !exists:
				exists = true
				lastMod = info.ModTime()
				w.schedule(FileEvent{Path: w.path, Op: FileOpCreate, Timestamp: time.Now()})
			case err == nil && info.ModTime().After(lastMod):
				lastMod = info.ModTime()
				w.schedule(FileEvent{Path: w.path, Op: FileOpWrite, Timestamp: time.Now()})
			}
		}
	}
}

// schedule debounces events; only the last event in a burst is dispatched
func (w *FileWatcher) schedule(event FileEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	w.pending = event
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.dispatch)
}

func (w *FileWatcher) dispatch() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	event := w.pending
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("dispatching file event",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	for _, cb := range callbacks {
		cb(event)
	}
}
