// Package watcher notifies subscribers when the local tracker database
// changes on disk, so views can reload without polling.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/newhook/kb/internal/logging"
	"github.com/newhook/kb/internal/pubsub"
)

// DefaultDebounce coalesces bursts of writes (a single transaction touches
// the database and its WAL several times).
const DefaultDebounce = 100 * time.Millisecond

// EventType describes what changed.
type EventType int

const (
	// DBChanged means the database or its WAL was written.
	DBChanged EventType = iota
)

// WatcherEvent is the payload published to subscribers.
type WatcherEvent struct {
	Type EventType
	Path string
}

// Config configures a Watcher.
type Config struct {
	DBPath      string
	DebounceDur time.Duration
}

// DefaultConfig returns the standard configuration for dbPath.
func DefaultConfig(dbPath string) Config {
	return Config{DBPath: dbPath, DebounceDur: DefaultDebounce}
}

// Watcher watches the directory holding the database and publishes a
// debounced DBChanged event when the database or its -wal file changes.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	broker  *pubsub.Broker[WatcherEvent]
	targets map[string]bool

	mu       sync.Mutex
	timer    *time.Timer
	lastPath string
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

// New creates a watcher. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.DebounceDur <= 0 {
		cfg.DebounceDur = DefaultDebounce
	}
	abs, err := filepath.Abs(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.DBPath, err)
	}
	cfg.DBPath = abs

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		broker: pubsub.NewBroker[WatcherEvent](),
		targets: map[string]bool{
			abs:          true,
			abs + "-wal": true,
		},
		done: make(chan struct{}),
	}, nil
}

// Broker returns the broker events are published on.
func (w *Watcher) Broker() *pubsub.Broker[WatcherEvent] {
	return w.broker
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	// Watch the directory, not the file: SQLite creates and removes the
	// WAL file, and editors replace files by rename.
	if err := w.fsw.Add(filepath.Dir(w.cfg.DBPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.cfg.DBPath), err)
	}
	w.started = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop stops watching and shuts down the broker. It is safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	w.broker.Shutdown()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.targets[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("file watcher error", "error", err)
		}
	}
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.lastPath = path
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.DebounceDur, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	path := w.lastPath
	w.timer = nil
	w.mu.Unlock()

	logging.Debug("tracker database changed", "path", path)
	w.broker.Publish(pubsub.UpdatedEvent, WatcherEvent{Type: DBChanged, Path: path})
}
