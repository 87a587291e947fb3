package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is used when Options.Settle is zero.
const DefaultSettle = 500 * time.Millisecond

// Event reports an image that appeared in a watched directory and has
// stopped changing.
type Event struct {
	Path string    `json:"path"`
	Size int64     `json:"size"`
	Time time.Time `json:"time"`
}

// Options configures a Watcher.
type Options struct {
	Directories []string
	// Accept filters paths; nil accepts everything.
	Accept func(path string) bool
	Settle time.Duration
	Logger *slog.Logger
}

// Watcher monitors directories for new frames. A path is reported once its
// size has been stable for the settle delay.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan Event
	dirs    []string
	accept  func(string) bool
	settle  time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher; call Start to begin monitoring.
func New(opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	settle := opts.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher: fw,
		Events:  make(chan Event, 100),
		dirs:    opts.Directories,
		accept:  opts.Accept,
		settle:  settle,
		log:     logger,
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}, nil
}

// Start adds the configured directories and begins processing events.
func (w *Watcher) Start() error {
	if len(w.dirs) == 0 {
		return fmt.Errorf("no directories to watch")
	}
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "path", dir)
	}
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// Stop stops the watcher and closes Events.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	close(w.Events)
	w.mu.Unlock()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if w.accept != nil && !w.accept(event.Name) {
					continue
				}
				w.schedule(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.cancel(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// schedule (re)arms the settle timer for path; each write pushes it back.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[path]; !ok {
		return
	}
	delete(w.pending, path)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	ev := Event{Path: abs, Size: info.Size(), Time: time.Now()}
	select {
	case w.Events <- ev:
	default:
		w.log.Warn("event buffer full, dropping event", "path", abs)
	}
}

// Forward hands each event to handle until events closes or ctx is done.
// Handler errors are logged and do not stop forwarding.
func Forward(ctx context.Context, events <-chan Event, handle func(context.Context, Event) error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := handle(ctx, ev); err != nil {
				logger.Warn("failed to handle new frame", "path", ev.Path, "error", err)
			}
		}
	}
}
