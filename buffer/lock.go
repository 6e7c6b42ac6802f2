package buffer

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nicesj/widget-provider/errors"
)

// advisoryLock is the per-instance advisory write lock file and SHM buffers
// acquire on creation, grounded on widget_service_create_lock(id, type,
// WIDGET_LOCK_WRITE) in original_source's widget_provider_buffer.c: taken
// around Sync for file-kind buffers, and around the whole acquire/release
// cycle of HW GEM mapping except when a compensation buffer absorbs the
// write (spec.md §5 "file and SHM kinds use an external advisory lock").
//
// flock(2) is the Go-idiomatic stand-in for the source program's named lock
// service: both serialize writers across process boundaries on a single
// path, which is all this buffer path needs.
type advisoryLock struct {
	mu   sync.Mutex
	file *os.File
}

// newAdvisoryLock opens (creating if necessary) the lock file backing path
// and returns a handle ready for Lock/Unlock.
func newAdvisoryLock(path string) (*advisoryLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "advisory lock: mkdir %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "advisory lock: open %s", path)
	}
	return &advisoryLock{file: f}, nil
}

// Lock takes both the in-process mutex (serializing goroutines) and the
// flock (serializing other processes sharing the same path).
func (l *advisoryLock) Lock() error {
	l.mu.Lock()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		return errors.Wrapf(err, "advisory lock: flock LOCK_EX %s", l.file.Name())
	}
	return nil
}

// Unlock releases the flock and then the in-process mutex. Must only be
// called after a successful Lock.
func (l *advisoryLock) Unlock() error {
	defer l.mu.Unlock()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrapf(err, "advisory lock: flock LOCK_UN %s", l.file.Name())
	}
	return nil
}

// Close releases the underlying file descriptor, dropping any flock still
// held by this process.
func (l *advisoryLock) Close() error {
	return l.file.Close()
}

// lockPath derives the per-instance lock file path from the buffer's
// identity rather than its backing URI: URIs can come from any scheme
// (shm://, file://, pixmap://) and in tests even from fakes, so the lock
// file lives in its own directory keyed by a filesystem-safe encoding of
// (kind, package_id, instance_id).
var pathEscaper = strings.NewReplacer("/", "_", ":", "_")

func lockPath(key Key) string {
	return filepath.Join(os.TempDir(), "widget-provider-locks", pathEscaper.Replace(key.String())+".lock")
}
