package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driverpack/driverpack/internal/model"
)

// ChangeFunc receives the new snapshot after a successful reload.
type ChangeFunc func(cfg *model.Config)

// ErrorFunc receives reload errors. The previous snapshot is still live.
type ErrorFunc func(err error)

var ErrAlreadyWatching = errors.New("config: already watching")

type watch struct {
	fw        *fsnotify.Watcher
	path      string
	stop      chan struct{}
	wg        sync.WaitGroup
	reloading atomic.Bool
	seen      atomic.Int64 // unix nanos of the last write time a reload was started for
}

// Watch starts watching the backing file. Every change of its last write
// time reloads the configuration after the settle delay. Notifications
// arriving while a reload runs are ignored; if the file changed again by
// the time the reload finishes, it is reloaded once more.
// Watch returns once the watcher is registered; Close stops it.
func (s *Store) Watch(onChange ChangeFunc, onError ErrorFunc) error {
	s.watchMx.Lock()
	defer s.watchMx.Unlock()
	if s.watch != nil {
		return ErrAlreadyWatching
	}

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", s.path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// the directory is watched so rename based saves are noticed too
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &watch{
		fw:   fw,
		path: abs,
		stop: make(chan struct{}),
	}
	w.seen.Store(s.modTime.Load())

	w.wg.Add(1)
	go s.watchLoop(w, onChange, onError)
	s.watch = w
	slog.Debug("watching configuration", "path", abs)
	return nil
}

// Close stops the watcher and waits for a pending reload to finish.
func (s *Store) Close() error {
	s.watchMx.Lock()
	w := s.watch
	s.watch = nil
	s.watchMx.Unlock()
	if w == nil {
		return nil
	}

	close(w.stop)
	err := w.fw.Close()
	w.wg.Wait()
	return err
}

func (s *Store) watchLoop(w *watch, onChange ChangeFunc, onError ErrorFunc) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.changed() {
				continue
			}
			if !w.reloading.CompareAndSwap(false, true) {
				slog.Debug("configuration reload in progress: ignoring change", "path", w.path)
				continue
			}
			w.wg.Add(1)
			go s.reload(w, onChange, onError)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Error("configuration watcher", "path", w.path, "error", err)
		}
	}
}

func (s *Store) reload(w *watch, onChange ChangeFunc, onError ErrorFunc) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			w.reloading.Store(false)
			return
		case <-time.After(s.settle):
		}

		w.seen.Store(writeTime(w.path))
		if err := s.Load(); err != nil {
			slog.Error("configuration reload failed: keeping previous configuration", "path", w.path, "error", err)
			if onError != nil {
				onError(err)
			}
		} else {
			slog.Info("configuration reloaded", "path", w.path)
			if onChange != nil {
				onChange(s.Snapshot())
			}
		}

		if w.changed() {
			continue
		}
		w.reloading.Store(false)
		// a notification ignored between the check and the store is picked up here
		if !w.changed() || !w.reloading.CompareAndSwap(false, true) {
			return
		}
	}
}

func (w *watch) changed() bool {
	mt := writeTime(w.path)
	return mt != 0 && mt != w.seen.Load()
}

func writeTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
