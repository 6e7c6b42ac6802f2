package buffer

import (
	"github.com/nicesj/widget-provider/errors"
)

// GEMState holds the GEM/tbm-backed pixmap path for hardware-accelerated
// buffers: a second, driver-allocated pixmap plus an optional compensation
// buffer used when the hardware stride does not match the requested width
// (spec.md §4.2 "GEM auto-align compensation buffer", supplemented from
// original_source/widget-provider/widget_provider/src/fb.c).
type GEMState struct {
	handle      uintptr
	stride      int
	compensated bool
	compBuf     []byte

	// mapRefCount is fb.c's acquire_gem/release_gem refcnt: AcquireHW
	// increments it, ReleaseHW decrements it and only unmaps at zero.
	mapRefCount int

	// lock is the per-instance advisory lock taken around the whole
	// acquire/release cycle of the HW mapping when no compensation buffer
	// is in use, or only around the copy-out step in release when one is
	// (spec.md §5).
	lock *advisoryLock
}

// IsSupportHW reports whether this buffer is a GEM pixmap, the only kind
// with a hardware-mapped path (spec.md §4.2 "is_support_hw").
func (b *Buffer) IsSupportHW() bool {
	return b.key.Kind == KindGEMPixmap
}

// CreateHW allocates the GEM-backed pixmap and, if auto-align is set or the
// driver's reported stride does not equal width*bytesPerPixel, allocates a
// linear compensation buffer so callers always see tightly packed rows.
func (b *Buffer) CreateHW(w, h, bpp, driverStride int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.IsSupportHW() {
		return errors.ErrNotSupported
	}
	if b.gem != nil {
		return errors.Newf("buffer %s: hw buffer already created", b.key)
	}

	g := &GEMState{stride: driverStride}
	wantStride := w * bpp
	if b.autoAlign || driverStride != wantStride {
		g.compensated = true
		g.compBuf = make([]byte, h*wantStride)
	}

	lock, err := newAdvisoryLock(lockPath(b.key))
	if err != nil {
		return errors.Wrapf(err, "buffer %s: hw advisory lock", b.key)
	}
	g.lock = lock

	b.gem = g
	return nil
}

// DestroyHW releases the GEM-backed pixmap and any compensation buffer.
func (b *Buffer) DestroyHW() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gem == nil {
		return nil
	}
	if err := b.gem.lock.Close(); err != nil {
		return errors.Wrapf(err, "buffer %s: hw advisory lock close", b.key)
	}
	b.gem = nil
	return nil
}

// AcquireHW returns the pixel data to hand to a widget's render callback:
// the compensation buffer when stride compensation is active, or the raw
// GEM mapping otherwise. It increments the map-refcount; on the 0->1
// transition with no compensation buffer in use it takes the advisory lock,
// held until the matching ReleaseHW call drops the refcount back to zero
// (spec.md §5 "around the whole acquire/release cycle of HW GEM mapping").
func (b *Buffer) AcquireHW() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gem == nil {
		return nil, errors.Newf("buffer %s: hw buffer not created", b.key)
	}
	g := b.gem

	if g.mapRefCount == 0 && !g.compensated {
		if err := g.lock.Lock(); err != nil {
			return nil, errors.Wrapf(err, "buffer %s: hw acquire lock", b.key)
		}
	}
	g.mapRefCount++

	if g.compensated {
		return g.compBuf, nil
	}
	return nil, nil // real GEM mapping would be returned by the platform binding
}

// ReleaseHW decrements the map-refcount. At zero: if stride compensation is
// active, it grabs the advisory lock just for the copy-out step (the
// compensation buffer is process-private until this point, so no lock was
// held during Acquire), copies the compensation buffer's tightly packed
// rows back into the driver's strided pixmap via copyRowsBack, then
// releases; otherwise it releases the lock AcquireHW took on first acquire
// (spec.md §4.2 "release_hw", §5).
func (b *Buffer) ReleaseHW(copyRowsBack func(dst []byte, stride int) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gem == nil {
		return errors.Newf("buffer %s: hw buffer not created", b.key)
	}
	g := b.gem

	if g.mapRefCount <= 0 {
		return errors.Newf("buffer %s: hw release without matching acquire", b.key)
	}
	g.mapRefCount--
	if g.mapRefCount > 0 {
		return nil
	}

	if g.compensated {
		if err := g.lock.Lock(); err != nil {
			return errors.Wrapf(err, "buffer %s: hw release lock", b.key)
		}
		var copyErr error
		if copyRowsBack != nil {
			copyErr = copyRowsBack(g.compBuf, g.stride)
		}
		if err := g.lock.Unlock(); err != nil && copyErr == nil {
			copyErr = errors.Wrapf(err, "buffer %s: hw release unlock", b.key)
		}
		return copyErr
	}

	return g.lock.Unlock()
}
