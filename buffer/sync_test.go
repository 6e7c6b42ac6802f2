package buffer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileFakeRPC hands out a real file:// URI so Sync has something to write
// to, unlike fakeRPC's fixed "shm://fake".
type fileFakeRPC struct {
	path string
}

func (f *fileFakeRPC) AcquireBuffer(key Key, slot int, w, h, bpp int) (string, error) {
	return "file://" + f.path, nil
}

func (f *fileFakeRPC) ReleaseBuffer(key Key, slot int) error { return nil }

func (f *fileFakeRPC) ResizeBuffer(key Key, slot int, w, h int) (string, error) {
	return "file://" + f.path, nil
}

func (f *fileFakeRPC) SendUpdated(key Key, slot int, region DamageRegion, forGbar bool, descFile string) error {
	return nil
}

func (f *fileFakeRPC) SendDirectBufferUpdated(fd int, key Key, slot int, region DamageRegion, forGbar bool, descFile string) error {
	return nil
}

func TestBufferSyncWritesFileContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.png")
	rpc := &fileFakeRPC{path: path}
	key := Key{Kind: KindFile, PackageID: "org.tizen.clock", InstanceID: "inst-sync"}
	p := NewProvider(rpc)

	buf, err := p.Create(key, false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Acquire(4, 2, 4))

	md, err := buf.Ref()
	require.NoError(t, err)
	pixels := md.Bytes()
	for i := range pixels {
		pixels[i] = byte(i)
	}

	require.NoError(t, buf.Sync())

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pixels, written)

	require.NoError(t, Unref(md))
}

func TestBufferSyncNoOpForSHM(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	buf, err := p.Create(testKey(), false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Acquire(10, 10, 4))

	require.NoError(t, buf.Sync())
}

func TestBufferDumpFrameCopiesCurrentSurface(t *testing.T) {
	rpc := &fakeRPC{}
	p := NewProvider(rpc)
	buf, err := p.Create(testKey(), false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.Acquire(2, 2, 4))

	md, err := buf.Ref()
	require.NoError(t, err)
	copy(md.Bytes(), []byte{1, 2, 3, 4})

	dump, err := buf.DumpFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(1), dump[0])

	// Mutating the returned copy must not alias the live buffer.
	dump[0] = 0xFF
	assert.Equal(t, byte(1), md.Bytes()[0])

	require.NoError(t, Unref(md))
}

func TestGEMReleaseHWUnmapsOnlyAtZeroRefcount(t *testing.T) {
	rpc := &fakeRPC{}
	key := Key{Kind: KindGEMPixmap, PackageID: "org.tizen.clock", InstanceID: "inst-refcount"}
	p := NewProvider(rpc)

	buf, err := p.Create(key, false, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.CreateHW(10, 10, 4, 40)) // driver stride == w*bpp: no compensation

	_, err = buf.AcquireHW()
	require.NoError(t, err)
	_, err = buf.AcquireHW()
	require.NoError(t, err)

	require.NoError(t, buf.ReleaseHW(nil))
	// First release only drops the refcount from 2 to 1; a second acquire
	// against an already-unmapped buffer would be a bug, so this must not
	// yet report an error on the next release.
	require.NoError(t, buf.ReleaseHW(nil))

	require.NoError(t, buf.DestroyHW())
}

func TestGEMReleaseHWCopiesBackWhenCompensated(t *testing.T) {
	rpc := &fakeRPC{}
	key := Key{Kind: KindGEMPixmap, PackageID: "org.tizen.clock", InstanceID: "inst-comp"}
	p := NewProvider(rpc)

	buf, err := p.Create(key, true, nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, buf.CreateHW(4, 4, 4, 32)) // driver stride 32 != 4*4=16: compensation kicks in

	data, err := buf.AcquireHW()
	require.NoError(t, err)
	require.Equal(t, 4*16, len(data))

	copied := false
	require.NoError(t, buf.ReleaseHW(func(dst []byte, stride int) error {
		copied = true
		assert.Equal(t, 32, stride)
		return nil
	}))
	assert.True(t, copied)

	require.NoError(t, buf.DestroyHW())
}
