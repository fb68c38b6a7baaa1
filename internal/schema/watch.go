package schema

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Debounce time.Duration
	// Timeout bounds one refresh. Default 30s.
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// Watcher refreshes a Store from a file-backed source whenever the file is
// written or replaced.
type Watcher struct {
	store    *Store
	src      Source
	path     string
	debounce time.Duration
	timeout  time.Duration
	logger   *zap.SugaredLogger

	fs    *fsnotify.Watcher
	done  chan struct{}
	wg    sync.WaitGroup
	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching path. The parent directory is watched so that
// editors which replace the file on save are seen too.
func Watch(store *Store, src Source, path string, opts WatchOptions) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "schema: resolve %s", path)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "schema: create file watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, errors.Wrapf(err, "schema: watch %s", abs)
	}

	w := &Watcher{
		store:    store,
		src:      src,
		path:     abs,
		debounce: opts.Debounce,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		fs:       fw,
		done:     make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.timeout <= 0 {
		w.timeout = 30 * time.Second
	}
	if w.logger == nil {
		w.logger = zap.NewNop().Sugar()
	}

	w.wg.Add(1)
	go w.loop()
	w.logger.Infow("watching schema file", "source", src.Name(), "path", abs)
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("schema watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.store.RefreshFrom(ctx, w.src); err != nil {
		// The previous snapshot stays published.
		w.logger.Errorw("schema reload failed", "path", w.path, "error", err)
	}
}

// Close stops watching. A pending reload is dropped.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
