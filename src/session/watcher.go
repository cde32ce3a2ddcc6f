package session

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// pollInterval bounds how long a session.json written without a detectable
// fsnotify event (e.g. on a filesystem that coalesces rapid creates) can go
// unnoticed.
const pollInterval = 5 * time.Second

// Watcher discovers session directories created by something other than
// this server's own Store.Create — an external forwarding CLI dropping a
// fresh control directory straight onto disk. It never spawns a process;
// it only registers what it finds.
type Watcher struct {
	store *Store
	fsw   *fsnotify.Watcher
}

// NewWatcher opens an fsnotify watch on the store's control root.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{store: store, fsw: fsw}, nil
}

// Run services fsnotify events and a polling fallback until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create) != 0 {
				w.tryRegister(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("watcher: fsnotify error")
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

// tryRegister attempts to load and register a newly-seen path as a session
// directory. A directory can appear before session.json is fully written, so
// failure here is routine, not an error worth logging loudly.
func (w *Watcher) tryRegister(path string) {
	id := filepath.Base(path)
	if _, err := uuid.Parse(id); err != nil {
		return
	}
	if _, err := w.store.Get(id); err == nil {
		return
	}
	info, err := LoadInfo(path)
	if err != nil {
		return
	}
	w.store.register(info)
	logrus.WithField("session", id).Info("watcher: registered externally-created session")
}

// pollOnce re-scans the control root for directories fsnotify missed,
// bounding discovery latency to pollInterval.
func (w *Watcher) pollOnce() {
	if err := w.store.scan(); err != nil {
		logrus.WithError(err).Warn("watcher: poll scan failed")
	}
}
