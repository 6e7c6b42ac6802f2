// Package buffer implements the Buffer Provider (spec.md §4.2): per-instance
// pixel-buffer objects backed by a file, shared memory, an X11 pixmap, or a
// GEM-backed pixmap, with acquire/release/resize lifecycle, extra-buffer
// slots, frame-skip hints, and damage-region propagation to the master or to
// direct viewers.
package buffer

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// Kind selects the backing resource for a Buffer (spec.md §3 "Buffer").
type Kind int

const (
	KindFile Kind = iota
	KindSHM
	KindPixmap
	KindGEMPixmap
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindSHM:
		return "shm"
	case KindPixmap, KindGEMPixmap:
		return "pixmap"
	default:
		return "unknown"
	}
}

// State is the Buffer's acquire/release lifecycle state.
type State int

const (
	StateInitialized State = iota // handle allocated, no OS resource yet
	StateCreated                  // backing resource acquired from master
)

// Key identifies a Buffer the way the master identifies it: by kind plus the
// owning instance's (package_id, instance_id) pair.
type Key struct {
	Kind       Kind
	PackageID  string
	InstanceID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.PackageID, k.InstanceID)
}

// Geometry is a buffer's pixel dimensions.
type Geometry struct {
	Width         int
	Height        int
	BytesPerPixel int
}

// DamageRegion is the rectangle an `updated`/`desc_updated` frame reports.
// A region covering the full buffer is the width×height rectangle
// FullDamage returns (spec.md §8 round-trip law); the zero value is an
// empty rectangle and is not treated as full.
type DamageRegion struct {
	X, Y, W, H int
}

// FullDamage returns the damage region covering the entire buffer.
func FullDamage(g Geometry) DamageRegion {
	return DamageRegion{X: 0, Y: 0, W: g.Width, H: g.Height}
}

// EventHandler receives input/accessibility/key events synthesized by the
// Provider Protocol and routed to this buffer (spec.md §4.2 "Event dispatch
// through buffers").
type EventHandler interface {
	HandleMouse(ev MouseEvent) error
	HandleKey(ev KeyEvent) error
	HandleAccess(ev AccessEvent) error
}

// MouseEvent is a pointer/touch event, already scaled by the source-rect
// ratio when (rw, rh) != (1, 1) per spec.md §4.2.
type MouseEvent struct {
	Type     string // down, up, move, enter, leave, set, unset, on_scroll, off_scroll, on_hold, off_hold
	X, Y     float64
	DeviceID int
	ForGbar  bool
}

// KeyEvent passes through unchanged (no source-rect scaling).
type KeyEvent struct {
	Type     string
	KeyCode  int
	DeviceID int
	ForGbar  bool
}

// AccessEvent is an accessibility event, scaled like MouseEvent.
type AccessEvent struct {
	Type     string
	X, Y     float64
	DeviceID int
	ForGbar  bool
}

// Callback receives buffer-level lifecycle notifications, currently only
// FRAME_SKIP_CLEARED (spec.md §4.2).
type Callback interface {
	OnFrameSkipCleared(buf *Buffer)
}

// MasterRPC is the subset of the master protocol the Buffer Provider needs:
// acquiring/releasing/resizing backing resources and emitting damage
// notifications. Implemented by the protocol package; injected here so this
// package never imports the wire-protocol layer (spec.md §4.2 calls these
// "acquire_buffer"/"release_buffer"/"resize_buffer"/"updated"/"desc_updated").
type MasterRPC interface {
	AcquireBuffer(key Key, slot int, w, h, bpp int) (uri string, err error)
	ReleaseBuffer(key Key, slot int) error
	ResizeBuffer(key Key, slot int, w, h int) (uri string, err error)
	SendUpdated(key Key, slot int, region DamageRegion, forGbar bool, descFile string) error
	SendDirectBufferUpdated(fd int, key Key, slot int, region DamageRegion, forGbar bool, descFile string) error
}

// Buffer is one pixel-buffer object, keyed by (kind, package_id,
// instance_id), with an optional set of extra-buffer slots (spec.md §3).
type Buffer struct {
	key       Key
	autoAlign bool
	handler   EventHandler
	callback  Callback
	userdata  interface{}

	mu       sync.Mutex
	state    State
	geometry Geometry
	uri      string
	shortID  string // base58-encoded short id embedded in the URI

	refcount int

	extra     []extraSlot
	frameSkip int

	gem *GEMState

	// data is the CPU-visible pixel storage widgets render into for file
	// and (software) pixmap kinds, reallocated on Acquire/Resize. For SHM
	// buffers the OS-level shared segment is the canonical storage and this
	// is unused; for GEM pixmaps the GEMState mapping is canonical instead.
	data []byte

	// lock is the per-instance advisory lock file/SHM buffers grab on
	// Acquire (spec.md §4.2, §5); nil for pixmap/GEM-pixmap kinds.
	lock *advisoryLock

	rpc MasterRPC
}

type extraSlot struct {
	state    State
	uri      string
	geometry Geometry
}

// New allocates a Buffer handle in state Initialized. No OS resource is
// acquired yet (spec.md §4.2 "create").
func New(key Key, autoAlign bool, handler EventHandler, userdata interface{}, extraSlots int, rpc MasterRPC) *Buffer {
	return &Buffer{
		key:       key,
		autoAlign: autoAlign,
		handler:   handler,
		userdata:  userdata,
		state:     StateInitialized,
		extra:     make([]extraSlot, extraSlots),
		rpc:       rpc,
	}
}

// Key returns the buffer's identity.
func (b *Buffer) Key() Key { return b.key }

// Geometry returns the current acquired geometry.
func (b *Buffer) Geometry() Geometry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.geometry
}

// shortBufferID derives a short, collision-resistant id for embedding in
// shm://<id> and pixmap://<id>:<bpp> URIs from a fresh random identifier
// (generated by the caller, e.g. via google/uuid) so wire URIs stay compact.
func shortBufferID(raw []byte) string {
	return base58.Encode(raw)
}

// Acquire requests the master allocate (or re-use) the backing resource for
// this buffer at the given geometry, transitioning Initialized -> Created.
func (b *Buffer) Acquire(w, h, bpp int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateInitialized {
		return errors.Newf("buffer %s: acquire requires state Initialized, got %d", b.key, b.state)
	}

	uri, err := b.rpc.AcquireBuffer(b.key, -1, w, h, bpp)
	if err != nil {
		return errors.Wrapf(err, "failed to acquire buffer %s", b.key)
	}

	b.uri = uri
	b.geometry = Geometry{Width: w, Height: h, BytesPerPixel: bpp}
	b.state = StateCreated
	b.refcount = 0
	b.data = make([]byte, w*h*bpp)

	if b.key.Kind == KindFile || b.key.Kind == KindSHM {
		lock, lerr := newAdvisoryLock(lockPath(b.key))
		if lerr != nil {
			return errors.Wrapf(lerr, "failed to create advisory lock for buffer %s", b.key)
		}
		b.lock = lock
	}
	return nil
}

// AcquireExtra acquires a slot in [0, N_extra) for multi-surface widgets.
func (b *Buffer) AcquireExtra(slot, w, h, bpp int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if slot < 0 || slot >= len(b.extra) {
		return errors.Newf("buffer %s: extra slot %d out of range [0,%d)", b.key, slot, len(b.extra))
	}

	uri, err := b.rpc.AcquireBuffer(b.key, slot, w, h, bpp)
	if err != nil {
		return errors.Wrapf(err, "failed to acquire extra buffer %s slot %d", b.key, slot)
	}

	b.extra[slot] = extraSlot{
		state:    StateCreated,
		uri:      uri,
		geometry: Geometry{Width: w, Height: h, BytesPerPixel: bpp},
	}
	return nil
}

// Resize swaps in a new backing without destroying the handle. The old
// backing remains valid for any outstanding ref until its refcount drains
// (spec.md §4.2 "resize").
func (b *Buffer) Resize(w, h int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateCreated {
		return errors.Newf("buffer %s: resize requires state Created", b.key)
	}

	uri, err := b.rpc.ResizeBuffer(b.key, -1, w, h)
	if err != nil {
		return errors.Wrapf(err, "failed to resize buffer %s", b.key)
	}

	b.uri = uri
	b.geometry.Width = w
	b.geometry.Height = h
	b.data = make([]byte, w*h*b.geometry.BytesPerPixel)
	return nil
}

// Release drops the master-allocated backing but keeps the handle:
// Created -> Initialized.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateCreated {
		return nil
	}
	if b.refcount > 0 {
		return errors.Newf("buffer %s: release with refcount=%d outstanding", b.key, b.refcount)
	}

	if err := b.rpc.ReleaseBuffer(b.key, -1); err != nil {
		return errors.Wrapf(err, "failed to release buffer %s", b.key)
	}

	if b.lock != nil {
		if err := b.lock.Close(); err != nil {
			logger.Named("buffer").Warnw("advisory lock close failed", "key", b.key.String(), "error", err)
		}
		b.lock = nil
	}

	b.state = StateInitialized
	b.uri = ""
	b.data = nil
	return nil
}

// Destroy frees the handle. Requires state Initialized (spec.md §4.2
// "destroy"), matching the invariant that destroying a buffer while
// refcount>0 is an error (spec.md §3 Buffer invariant).
func (b *Buffer) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateInitialized {
		return errors.Newf("buffer %s: destroy requires state Initialized (call Release first)", b.key)
	}
	if b.refcount > 0 {
		return errors.Newf("buffer %s: destroy with refcount=%d outstanding", b.key, b.refcount)
	}
	return nil
}

// Ref returns a mapped pixel data handle and increments the refcount for
// file/pixmap kinds; idempotent for SHM, where the OS tracks the attach
// count instead (spec.md §4.2 "ref").
func (b *Buffer) Ref() (*MappedData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateCreated {
		return nil, errors.Newf("buffer %s: ref requires state Created", b.key)
	}

	if b.key.Kind != KindSHM {
		b.refcount++
	}

	return &MappedData{buf: b, key: b.key}, nil
}

// Unref releases a MappedData obtained from Ref. md carries enough header
// information in-band to locate its owning buffer (spec.md §4.2 "unref").
func Unref(md *MappedData) error {
	if md == nil {
		return errors.New("unref(nil): invalid argument")
	}
	b := md.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.key.Kind != KindSHM {
		if b.refcount <= 0 {
			return errors.Newf("buffer %s: unref with refcount already 0", b.key)
		}
		b.refcount--
	}
	return nil
}

// RefCount reports the current reference count (spec.md §8 property 3).
func (b *Buffer) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refcount
}

// MappedData is the opaque pixel-data handle returned by Ref.
type MappedData struct {
	buf *Buffer
	key Key
}

// Key identifies which buffer this mapping belongs to.
func (m *MappedData) Key() Key { return m.key }

// Bytes returns the mapped buffer's CPU-visible pixel storage, for widgets
// rendering into a file or software-pixmap buffer. Pixel writes through
// this slice become visible to the master once Sync is called.
func (m *MappedData) Bytes() []byte {
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()
	return m.buf.data
}

// FrameSkip returns the current frame-skip counter.
func (b *Buffer) FrameSkip() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameSkip
}

// SetFrameSkip sets the frame-skip counter: while nonzero it acts as a hint
// that no update need be emitted until it reaches zero (spec.md §3).
func (b *Buffer) SetFrameSkip(n int) {
	b.mu.Lock()
	b.frameSkip = n
	b.mu.Unlock()
}

// ClearFrameSkip zeroes the frame-skip counter and fires the
// FRAME_SKIP_CLEARED callback (spec.md §4.2).
func (b *Buffer) ClearFrameSkip() {
	b.mu.Lock()
	b.frameSkip = 0
	cb := b.callback
	b.mu.Unlock()

	if cb != nil {
		cb.OnFrameSkipCleared(b)
	}
}

// DecrementFrameSkip consumes one frame-skip tick, returning true if the
// caller should suppress this update (the counter was nonzero before the
// decrement, including the tick that brings it to zero).
func (b *Buffer) DecrementFrameSkip() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameSkip <= 0 {
		return false
	}
	b.frameSkip--
	return true
}

// SetCallback registers the buffer-level lifecycle callback.
func (b *Buffer) SetCallback(cb Callback) {
	b.mu.Lock()
	b.callback = cb
	b.mu.Unlock()
}

// Handler returns the registered input event handler, or nil.
func (b *Buffer) Handler() EventHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

// SendUpdated emits an updated/desc_updated frame for the primary surface
// (or for extra slot if slot >= 0), honoring the frame-skip hint.
func (b *Buffer) SendUpdated(slot int, region DamageRegion, forGbar bool, descFile string) error {
	if b.DecrementFrameSkip() {
		return nil
	}
	return b.rpc.SendUpdated(b.key, slot, region, forGbar, descFile)
}

// SendDirectUpdated emits the same notification directly to a viewer fd,
// bypassing the master (spec.md §4.5 "Direct viewer fan-out").
func (b *Buffer) SendDirectUpdated(fd int, slot int, region DamageRegion, forGbar bool, descFile string) error {
	return b.rpc.SendDirectBufferUpdated(fd, b.key, slot, region, forGbar, descFile)
}

// uriToPath strips a file:// scheme from uri, leaving a plain filesystem
// path, the way the source program's widget_util_uri_to_path does.
func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// Sync flushes the buffer's current pixel content to wherever the backing
// kind makes it visible to the master (spec.md §4.2 "sync"): for file
// buffers it grabs the advisory lock, writes the full buffer to its path,
// and releases; pixmap buffers without a GEM mapping would push their
// shared-memory surface onto the X pixmap here (this build has no X11
// binding, so that step is a documented no-op); SHM and GEM-pixmap buffers
// are already visible to the master the instant a widget writes to their
// mapping, so Sync is a no-op for them.
func (b *Buffer) Sync() error {
	b.mu.Lock()
	if b.state != StateCreated {
		b.mu.Unlock()
		return errors.Newf("buffer %s: sync requires state Created", b.key)
	}

	kind := b.key.Kind
	if kind != KindFile {
		b.mu.Unlock()
		return nil
	}

	lock := b.lock
	path := uriToPath(b.uri)
	data := make([]byte, len(b.data))
	copy(data, b.data)
	b.mu.Unlock()

	if lock == nil {
		return errors.Newf("buffer %s: sync requires an advisory lock", b.key)
	}

	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "buffer %s: sync", b.key)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			logger.Named("buffer").Warnw("advisory unlock failed", "key", b.key.String(), "error", uerr)
		}
	}()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "buffer %s: sync write %s", b.key, path)
	}
	return nil
}

// DumpFrame produces a heap copy of the buffer's current surface, the way
// fb_dump_frame does for a screenshot/preview request: GEM-pixmap buffers go
// through AcquireHW/ReleaseHW so the copy observes the driver's real
// mapping (and any stride compensation); every other kind copies the
// CPU-visible storage Sync itself writes from.
func (b *Buffer) DumpFrame() ([]byte, error) {
	b.mu.Lock()
	if b.state != StateCreated {
		b.mu.Unlock()
		return nil, errors.Newf("buffer %s: dump_frame requires state Created", b.key)
	}
	isHW := b.key.Kind == KindGEMPixmap
	b.mu.Unlock()

	if isHW {
		src, err := b.AcquireHW()
		if err != nil {
			return nil, errors.Wrapf(err, "buffer %s: dump_frame", b.key)
		}
		out := make([]byte, len(src))
		copy(out, src)
		if err := b.ReleaseHW(nil); err != nil {
			return nil, errors.Wrapf(err, "buffer %s: dump_frame release", b.key)
		}
		return out, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}
