package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicesj/widget-provider/watcher"
)

func TestFileUpdatedFiresFromRealMonitorEvent(t *testing.T) {
	eng, sink, pkg, _ := testEngine(t)

	dir := t.TempDir()
	mon, err := watcher.NewMonitor(dir)
	require.NoError(t, err)
	defer mon.Close()
	mon.Run()
	eng.SetMonitor(mon)

	id := Identity{PackageID: "org.example.clock", InstanceID: "file://" + filepath.Join(dir, "w1.png")}
	_, err = eng.New(id, pkg, "content", "", "", 100, 100, true)
	require.NoError(t, err)

	inst, ok := eng.Get(id)
	require.True(t, ok)
	require.True(t, eng.beginUpdateMonitor(inst))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.png"), []byte("pixels"), 0o644))

	require.Eventually(t, func() bool {
		return inst.MonitorCount() <= 0
	}, 2*time.Second, 5*time.Millisecond, "monitor count must drain once the watcher observes the write")

	assert.Equal(t, 1, sink.masterSends)
}

func TestUnregisterUpdateMonitorStopsFurtherDispatch(t *testing.T) {
	eng, sink, pkg, _ := testEngine(t)

	dir := t.TempDir()
	mon, err := watcher.NewMonitor(dir)
	require.NoError(t, err)
	defer mon.Close()
	mon.Run()
	eng.SetMonitor(mon)

	id := Identity{PackageID: "org.example.clock", InstanceID: "file://" + filepath.Join(dir, "w1.png")}
	inst, err := eng.New(id, pkg, "content", "", "", 100, 100, true)
	require.NoError(t, err)

	require.NoError(t, eng.destroy(inst, ReasonDefault))
	sink.mu.Lock()
	sink.masterSends = 0
	sink.mu.Unlock()

	require.True(t, eng.beginUpdateMonitor(inst))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1.png"), []byte("pixels"), 0o644))

	time.Sleep(200 * time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 0, sink.masterSends, "a destroyed instance's registration must not still be live")
}
