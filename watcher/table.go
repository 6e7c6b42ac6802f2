package watcher

import "sync"

// Callback is invoked when a watched filename transitions: overflow reports
// that the inotify (or platform-equivalent) queue dropped events around
// this one, so the caller should treat its own state as possibly stale
// (spec.md §4.4 "Overflow... is reported to callbacks as a flag").
type Callback func(filename string, overflow bool) error

type entry struct {
	id uint64
	cb Callback
}

// table is a filename -> callback multimap: update_monitor.c's update_list
// and delete_list are two instances of this same shape, each keyed by
// filename with possibly several registrations sharing one name (a widget's
// image and its ".desc" companion both land under the same directory, and
// nothing prevents two registrations from choosing the same name).
//
// spec.md's redesign note on "Inotify semantics" asks for a snapshot of the
// callback vector taken before iteration rather than the source's
// in-use-counter/tombstone pattern, and for the tombstone never to be
// exposed to callers. dispatch here copies the slice for a filename under
// the lock, releases it, and runs callbacks against the copy; a callback
// that returns an error has its entry removed afterwards, same as the
// source's "remove on EXIT_FAILURE" rule, but callers never see a
// removed-pending state.
type table struct {
	mu     sync.Mutex
	byName map[string][]entry
	nextID uint64
}

func newTable() *table {
	return &table{byName: make(map[string][]entry)}
}

// register appends a new callback for filename and returns its id.
func (t *table) register(filename string, cb Callback) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.byName[filename] = append(t.byName[filename], entry{id: id, cb: cb})
	return id
}

// unregister removes the entry with the given (filename, id) pair, mirroring
// update_monitor_del_update_cb/del_delete_cb's lookup-by-identity. Reports
// whether an entry was found.
func (t *table) unregister(filename string, id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.byName[filename]
	for i, e := range entries {
		if e.id == id {
			t.byName[filename] = append(entries[:i:i], entries[i+1:]...)
			if len(t.byName[filename]) == 0 {
				delete(t.byName, filename)
			}
			return true
		}
	}
	return false
}

// dispatch snapshots every callback registered for filename and invokes
// each against the copy, removing any entry whose callback returns an
// error. Returns the number of callbacks invoked, matching
// update_monitor_trigger_*_cb's "cnt == 0 -> invalid parameter" signal
// for "nobody was watching this file".
func (t *table) dispatch(filename string, overflow bool) int {
	t.mu.Lock()
	entries := t.byName[filename]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	t.mu.Unlock()

	for _, e := range snapshot {
		if err := e.cb(filename, overflow); err != nil {
			t.unregister(filename, e.id)
		}
	}
	return len(snapshot)
}
