package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const watchDebounce = 500 * time.Millisecond

// Watcher reloads the store when one of its input files changes. It watches
// the parent directories so files replaced by rename are still noticed.
type Watcher struct {
	watcher *fsnotify.Watcher
	store   *Store
	files   map[string]bool
	log     *logrus.Entry
}

// NewWatcher creates a watcher over the store's input files. Files whose
// directory does not exist are skipped.
func NewWatcher(store *Store, log *logrus.Entry) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("identity: create file watcher: %w", err)
	}

	p := store.Paths()
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range []string{p.IdentityFile, p.SessionsFile, p.SessionMetaFile, p.CronJobsFile} {
		if f == "" {
			continue
		}
		f = filepath.Clean(f)
		files[f] = true
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("identity: watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}

	return &Watcher{watcher: w, store: store, files: files, log: log}, nil
}

// Run handles change events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				if err := w.store.ReloadAll(); err != nil {
					w.log.WithError(err).Debug("identity reload after file change incomplete")
					return
				}
				w.log.Debug("identity maps reloaded after file change")
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("identity file watcher error")
		}
	}
}
