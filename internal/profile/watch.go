package profile

import (
	"github.com/fsnotify/fsnotify"
)

// Watch observes the directory containing the cache file and resets the
// in-memory store whenever the cache file itself is removed out from
// under us — e.g. an operator running `rm .make_memory_cache` while the
// driver is alive. This is the Go-native expression of the cache's
// documented lifecycle: "destroyed only by external cache removal".
//
// Watch blocks until stop is closed or the watcher errors unrecoverably;
// run it in its own goroutine. Failure to start the watcher is logged
// and non-fatal — the store simply won't notice external deletion.
func (s *Store) Watch(stop <-chan struct{}) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("cache watch disabled: failed to create fsnotify watcher", "error", err)
		return
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		s.logger.Warn("cache watch disabled: failed to watch directory", "dir", s.dir, "error", err)
		return
	}

	target := s.cachePath()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != target {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.logger.Info("memory cache removed externally, resetting in-memory profiles", "path", target)
				s.Reset()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("cache watcher error", "error", err)
		}
	}
}
