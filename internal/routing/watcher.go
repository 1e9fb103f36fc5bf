package routing

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher keeps a Table in sync with the routes file. It reloads on file
// change events and on a periodic interval as a fallback for editors and
// mounts that do not emit events.
type Watcher struct {
	table        *Table
	path         string
	hostOverride string
	interval     time.Duration
	log          *logrus.Entry

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher creates a watcher for the given routes file. An empty path
// leaves the table empty (single-backend mode).
func NewWatcher(table *Table, path, hostOverride string, interval time.Duration, logger *logrus.Logger) *Watcher {
	return &Watcher{
		table:        table,
		path:         path,
		hostOverride: hostOverride,
		interval:     interval,
		log:          logger.WithField("component", "route_watcher"),
		done:         make(chan struct{}),
	}
}

// Start performs the initial load and begins watching. The initial load is
// fatal on a malformed file; later reload failures keep the previous table.
func (w *Watcher) Start() error {
	if w.path == "" {
		return nil
	}

	routes, err := LoadFile(w.path, w.hostOverride)
	if err != nil {
		return err
	}
	w.table.Replace(routes)
	w.log.WithField("routes", len(routes)).Info("Route table loaded")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.WithError(err).Warn("File watching unavailable, relying on periodic reload")
	} else {
		// Watch the directory: editors and config pushes typically replace
		// the file via rename, which drops a watch on the file itself.
		if err := fsw.Add(filepath.Dir(w.path)); err != nil {
			w.log.WithError(err).Warn("Failed to watch routes directory, relying on periodic reload")
			fsw.Close()
			fsw = nil
		}
	}
	w.fsw = fsw

	go w.run()
	return nil
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() {
	if w.path == "" {
		return
	}
	close(w.done)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	if w.fsw != nil {
		defer w.fsw.Close()
	}

	var events chan fsnotify.Event
	var errs chan error
	if w.fsw != nil {
		events = w.fsw.Events
		errs = w.fsw.Errors
	}

	base := filepath.Base(w.path)
	for {
		select {
		case event := <-events:
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.reload()
		case err := <-errs:
			w.log.WithError(err).Warn("Routes file watch error")
		case <-ticker.C:
			w.reload()
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	routes, err := LoadFile(w.path, w.hostOverride)
	if err != nil {
		w.log.WithError(err).Warn("Failed to reload routes file, keeping previous table")
		return
	}
	w.table.Replace(routes)
	w.log.WithField("routes", len(routes)).Debug("Route table reloaded")
}
