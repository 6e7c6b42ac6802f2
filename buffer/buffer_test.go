package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	acquireCalls int
	resizeCalls  int
	releaseCalls int
	sentUpdates  int
	uri          string
}

func (f *fakeRPC) AcquireBuffer(key Key, slot int, w, h, bpp int) (string, error) {
	f.acquireCalls++
	return "shm://fake", nil
}

func (f *fakeRPC) ReleaseBuffer(key Key, slot int) error {
	f.releaseCalls++
	return nil
}

func (f *fakeRPC) ResizeBuffer(key Key, slot int, w, h int) (string, error) {
	f.resizeCalls++
	return "shm://fake-resized", nil
}

func (f *fakeRPC) SendUpdated(key Key, slot int, region DamageRegion, forGbar bool, descFile string) error {
	f.sentUpdates++
	return nil
}

func (f *fakeRPC) SendDirectBufferUpdated(fd int, key Key, slot int, region DamageRegion, forGbar bool, descFile string) error {
	f.sentUpdates++
	return nil
}

func testKey() Key {
	return Key{Kind: KindSHM, PackageID: "org.tizen.clock", InstanceID: "inst-1"}
}

func TestProviderCreateIsUnique(t *testing.T) {
	p := NewProvider(&fakeRPC{})
	key := testKey()

	_, err := p.Create(key, false, nil, nil, 2)
	require.NoError(t, err)

	_, err = p.Create(key, false, nil, nil, 2)
	assert.Error(t, err)
}

func TestBufferAcquireReleaseLifecycle(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	buf, err := p.Create(testKey(), false, nil, nil, 0)
	require.NoError(t, err)

	require.NoError(t, buf.Acquire(100, 100, 4))
	assert.Equal(t, 1, rpc.acquireCalls)
	assert.Equal(t, Geometry{Width: 100, Height: 100, BytesPerPixel: 4}, buf.Geometry())

	// Acquire again without releasing must fail: wrong state.
	err = buf.Acquire(100, 100, 4)
	assert.Error(t, err)

	require.NoError(t, buf.Resize(200, 150))
	assert.Equal(t, 1, rpc.resizeCalls)
	assert.Equal(t, 200, buf.Geometry().Width)

	require.NoError(t, buf.Release())
	assert.Equal(t, 1, rpc.releaseCalls)
}

func TestBufferDestroyRequiresZeroRefcount(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	// File kind: unlike SHM, its refs are counted.
	key := Key{Kind: KindFile, PackageID: "org.tizen.clock", InstanceID: "inst-1"}
	buf, err := p.Create(key, false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Acquire(10, 10, 4))

	md, err := buf.Ref()
	require.NoError(t, err)
	assert.Equal(t, 1, buf.RefCount())

	// The backing must stay valid while a ref is outstanding.
	assert.Error(t, buf.Release())

	// Refcount still outstanding: destroy must fail (spec property: buffer
	// refcount discipline).
	err = buf.Destroy()
	assert.Error(t, err)

	require.NoError(t, Unref(md))
	assert.Equal(t, 0, buf.RefCount())
	require.NoError(t, buf.Release())
	assert.NoError(t, buf.Destroy())
}

func TestSHMRefIsNotCounted(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	buf, err := p.Create(testKey(), false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Acquire(10, 10, 4))

	md, err := buf.Ref()
	require.NoError(t, err)
	assert.Equal(t, 0, buf.RefCount(), "SHM buffers are not refcounted like file/pixmap buffers")
	require.NoError(t, Unref(md))
}

func TestFrameSkipSuppressesSendUpdated(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	buf, err := p.Create(testKey(), false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Acquire(10, 10, 4))

	buf.SetFrameSkip(2)

	require.NoError(t, buf.SendUpdated(-1, FullDamage(buf.Geometry()), false, ""))
	assert.Equal(t, 0, rpc.sentUpdates, "first skip tick suppresses send")
	assert.Equal(t, 1, buf.FrameSkip())

	require.NoError(t, buf.SendUpdated(-1, FullDamage(buf.Geometry()), false, ""))
	assert.Equal(t, 0, rpc.sentUpdates, "second skip tick suppresses send")
	assert.Equal(t, 0, buf.FrameSkip())

	require.NoError(t, buf.SendUpdated(-1, FullDamage(buf.Geometry()), false, ""))
	assert.Equal(t, 1, rpc.sentUpdates, "counter drained: update goes through")
}

func TestClearFrameSkipFiresCallback(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	buf, err := p.Create(testKey(), false, nil, nil, 0)
	require.NoError(t, err)

	fired := false
	buf.SetCallback(callbackFunc(func(*Buffer) { fired = true }))
	buf.SetFrameSkip(5)
	buf.ClearFrameSkip()

	assert.True(t, fired)
	assert.Equal(t, 0, buf.FrameSkip())
}

type callbackFunc func(*Buffer)

func (f callbackFunc) OnFrameSkipCleared(b *Buffer) { f(b) }

func TestGEMAutoAlignAllocatesCompensationBuffer(t *testing.T) {
	rpc := &fakeRPC{}
	key := Key{Kind: KindGEMPixmap, PackageID: "org.tizen.clock", InstanceID: "inst-1"}
	p := NewProvider(rpc)
	buf, err := p.Create(key, true, nil, nil, 0)
	require.NoError(t, err)

	require.True(t, buf.IsSupportHW())
	// driver stride (320) != width*bpp (300): compensation buffer kicks in.
	require.NoError(t, buf.CreateHW(75, 100, 4, 320))

	data, err := buf.AcquireHW()
	require.NoError(t, err)
	assert.Equal(t, 100*300, len(data))

	require.NoError(t, buf.DestroyHW())
}
