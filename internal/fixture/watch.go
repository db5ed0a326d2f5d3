package fixture

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDelay = 250 * time.Millisecond

// ReloadObserver receives reload outcomes. Implemented by
// observability.Metrics.
type ReloadObserver interface {
	RecordFixtureReload(status string)
}

// Watcher reloads a Backend whenever a fixture file in its directory
// changes. Bursts of events within the delay collapse into one reload.
type Watcher struct {
	dir      string
	backend  *Backend
	observer ReloadObserver
	logger   *zap.Logger
	delay    time.Duration
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	reloads chan struct{}
}

// NewWatcher starts watching dir. Close releases the OS watch.
func NewWatcher(dir string, backend *Backend, observer ReloadObserver, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		backend:  backend,
		observer: observer,
		logger:   logger,
		delay:    defaultReloadDelay,
		fsw:      fsw,
		reloads:  make(chan struct{}, 1),
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("watching fixtures", zap.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isFixtureFile(ev.Name) || !ev.Op.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			w.logger.Debug("fixture changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			w.schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fixture watch error", zap.Error(err))

		case <-w.reloads:
			w.Reload()
		}
	}
}

// Reload re-reads the directory and installs it. A directory that fails to
// load leaves the previous fixtures in place.
func (w *Watcher) Reload() error {
	set, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error("fixture reload failed, keeping previous fixtures", zap.Error(err))
		w.record("error")
		return err
	}
	w.backend.Replace(set)
	w.logger.Info("fixtures reloaded",
		zap.Int("procedures", len(set.Procedures)),
		zap.Int("cases", len(set.Cases)),
	)
	w.record("ok")
	return nil
}

// Close stops the OS watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		select {
		case w.reloads <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) record(status string) {
	if w.observer != nil {
		w.observer.RecordFixtureReload(status)
	}
}
