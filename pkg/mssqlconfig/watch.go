package mssqlconfig

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugr-lab/mssql-tds/pkg/log"
)

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long the watcher waits after the last fsnotify
// event before reloading, collapsing the burst of events a single save
// often produces. Default 100ms, matching the teacher's procedure
// watcher.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnChange installs a callback fired after every successful or
// failed reload.
func WithOnChange(fn OnChange) WatchOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher loads path once and begins watching it for subsequent
// changes. fsnotify watches the containing directory rather than the
// file itself — editors commonly replace a file by rename rather than
// writing it in place, which drops an inode-based watch.
func NewWatcher(path string, opts ...WatchOption) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		current:  cfg,
		fsw:      fsw,
		debounce: 100 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.run()
	return w, nil
}

// Stop stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	logger := log.For("mssqlconfig")

	for {
		select {
		case <-w.stopCh:
			if w.timer != nil {
				w.timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	logger := log.For("mssqlconfig")
	cfg, err := Load(w.path)
	if err != nil {
		logger.WithError(err).Warn("config reload failed, keeping previous settings")
		if w.onChange != nil {
			w.onChange(Config{}, err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	logger.Info("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg, nil)
	}
}
