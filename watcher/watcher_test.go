package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameStripsSchemeAndDir(t *testing.T) {
	assert.Equal(t, "w1.png", Filename("file:///tmp/w1.png"))
	assert.Equal(t, "w1.png.desc", DescFilename("file:///tmp/w1.png"))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMonitorDispatchesUpdatedOnWrite(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitor(dir)
	require.NoError(t, err)
	defer m.Close()
	m.Run()

	fired := make(chan bool, 1)
	m.RegisterUpdated("w1.png", func(filename string, overflow bool) error {
		fired <- overflow
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.png"), []byte("x"), 0o644))

	select {
	case overflow := <-fired:
		assert.False(t, overflow)
	case <-time.After(2 * time.Second):
		t.Fatal("updated callback never fired")
	}
}

func TestMonitorIgnoresUnwatchedExtensions(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitor(dir)
	require.NoError(t, err)
	defer m.Close()
	m.Run()

	fired := false
	m.RegisterUpdated("ignored.txt", func(filename string, overflow bool) error {
		fired = true
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.png"), []byte("x"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(filepath.Join(dir, "w1.png"))
		return err == nil
	})
	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired)
}

func TestMonitorDispatchesDeletedOnRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "w1.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	m, err := NewMonitor(dir)
	require.NoError(t, err)
	defer m.Close()
	m.Run()

	fired := make(chan struct{}, 1)
	m.RegisterDeleted("w1.png", func(filename string, overflow bool) error {
		fired <- struct{}{}
		return nil
	})

	require.NoError(t, os.Remove(path))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("deleted callback never fired")
	}
}

func TestMonitorUnregisterStopsDispatch(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitor(dir)
	require.NoError(t, err)
	defer m.Close()
	m.Run()

	calls := 0
	reg := m.RegisterUpdated("w1.png", func(filename string, overflow bool) error {
		calls++
		return nil
	})
	m.Unregister(reg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.png"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, calls)
}
