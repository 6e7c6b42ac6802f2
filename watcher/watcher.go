// Package watcher implements the Update Monitor (spec.md §4.4): a single
// filesystem watch over the shared image directory widgets write their
// rendered output into, fanning CLOSE_WRITE/MOVED_TO and DELETE/MOVED_FROM
// events out to whichever instance registered interest in a given filename.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// watchedSuffixes mirrors util_check_ext's gate in update_monitor.c: only
// a widget's rendered image and its descriptor sidecar are interesting,
// everything else in the shared directory is noise (lock files, partial
// writes under other names).
var watchedSuffixes = []string{".png", ".desc"}

func isWatchedName(name string) bool {
	for _, suffix := range watchedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Filename strips a file:// scheme and any directory component from uri,
// leaving the bare name update_monitor_add_update_cb registers against
// (widget.c passes the instance's own URI as the watched path). Instance
// identities in this system are literal file:// URIs (spec.md §8 scenario
// S1 "file:///tmp/w1.png"), so this is the same transform buffer.Sync
// applies to go from URI to filesystem path, narrowed to the base name.
func Filename(uri string) string {
	return filepath.Base(strings.TrimPrefix(uri, "file://"))
}

// DescFilename is the companion descriptor filename a widget's info file
// is published under, grounded on add_desc_update_monitor's "%s.desc"
// naming in original_source's widget.c.
func DescFilename(uri string) string {
	return Filename(uri) + ".desc"
}

// Registration is the opaque handle RegisterUpdated/RegisterDeleted return;
// Unregister needs it to remove the right entry and nothing else. It is
// deliberately opaque: no tombstone or in-use state leaks out, per spec.md
// §9's "Inotify semantics" redesign note.
type Registration struct {
	tbl      *table
	filename string
	id       uint64
}

// Monitor watches a single directory for widget output file changes and
// dispatches them to per-filename registrants (spec.md §4.4).
type Monitor struct {
	dir     string
	fsw     *fsnotify.Watcher
	updated *table
	deleted *table

	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewMonitor opens a watch on dir (spec.md §4.4 "a well-known image
// directory"), grounded in shape on am/watcher.go's NewConfigWatcher:
// construct the fsnotify.Watcher, Add the single path, return a handle
// ready for Run.
func NewMonitor(dir string) (*Monitor, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "update monitor: create fsnotify watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "update monitor: watch %s", dir)
	}

	return &Monitor{
		dir:     dir,
		fsw:     fsw,
		updated: newTable(),
		deleted: newTable(),
		done:    make(chan struct{}),
	}, nil
}

// RegisterUpdated arms cb to fire on a CLOSE_WRITE/MOVED_TO event for
// filename (a bare name within the watched directory, e.g. the result of
// Filename/DescFilename).
func (m *Monitor) RegisterUpdated(filename string, cb Callback) *Registration {
	return &Registration{tbl: m.updated, filename: filename, id: m.updated.register(filename, cb)}
}

// RegisterDeleted arms cb to fire on a DELETE/MOVED_FROM event for filename.
func (m *Monitor) RegisterDeleted(filename string, cb Callback) *Registration {
	return &Registration{tbl: m.deleted, filename: filename, id: m.deleted.register(filename, cb)}
}

// Unregister removes reg. Safe to call even while a dispatch for the same
// filename is in progress elsewhere: dispatch works off a snapshot, so at
// worst an in-flight call still completes once more.
func (m *Monitor) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	reg.tbl.unregister(reg.filename, reg.id)
}

// Run starts the watch loop in its own goroutine. Call once per Monitor.
func (m *Monitor) Run() {
	go m.loop()
}

// loop is the monitor_cb equivalent: it translates fsnotify events into
// updated/deleted dispatches, filtering non-.png/.desc names and folding
// an async queue-overflow error onto the very next event it sees (fsnotify
// has no per-event IN_Q_OVERFLOW bit the way raw inotify does — see
// DESIGN.md for why this is the chosen approximation).
func (m *Monitor) loop() {
	var overflowPending bool
	for {
		select {
		case event, ok := <-m.fsw.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			if !isWatchedName(name) {
				continue
			}

			overflow := overflowPending
			overflowPending = false

			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				m.deleted.dispatch(name, overflow)
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				m.updated.dispatch(name, overflow)
			}

		case err, ok := <-m.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Named("watcher").Warnw("update monitor event queue overflow", "dir", m.dir)
				overflowPending = true
				continue
			}
			logger.Named("watcher").Warnw("update monitor error", "dir", m.dir, "error", err)

		case <-m.done:
			return
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (m *Monitor) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return m.fsw.Close()
}
