package buffer

import (
	"crypto/rand"
	"sync"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// Provider is the process-wide registry of live Buffer handles, keyed by
// (kind, package_id, instance_id). Grounded on the teacher's
// pulse/async.Store: a mutex-guarded map with one constructor/getter/remove
// method per lifecycle step and errors.Wrapf on every failure path.
type Provider struct {
	mu      sync.RWMutex
	buffers map[Key]*Buffer
	rpc     MasterRPC
}

// NewProvider constructs an empty buffer registry bound to the given master
// RPC sink.
func NewProvider(rpc MasterRPC) *Provider {
	return &Provider{
		buffers: make(map[Key]*Buffer),
		rpc:     rpc,
	}
}

// Create allocates a new Buffer handle for key and registers it. Returns
// errors.ErrAlreadyExists if key is already registered (spec.md §3 "Buffer"
// invariant: at most one live buffer per (kind, package_id, instance_id)).
func (p *Provider) Create(key Key, autoAlign bool, handler EventHandler, userdata interface{}, extraSlots int) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.buffers[key]; ok {
		return nil, errors.Wrapf(errors.ErrAlreadyExists, "buffer %s", key)
	}

	buf := New(key, autoAlign, handler, userdata, extraSlots, p.rpc)
	p.buffers[key] = buf

	logger.Named("buffer").Debugw("buffer created", "key", key.String())
	return buf, nil
}

// Get looks up a previously created Buffer by key.
func (p *Provider) Get(key Key) (*Buffer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buf, ok := p.buffers[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "buffer %s", key)
	}
	return buf, nil
}

// Remove destroys and unregisters the Buffer for key. The buffer must
// already be in state Initialized with refcount 0 (see Buffer.Destroy).
func (p *Provider) Remove(key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[key]
	if !ok {
		return nil
	}
	if err := buf.Destroy(); err != nil {
		return errors.Wrapf(err, "failed to destroy buffer %s before removal", key)
	}

	delete(p.buffers, key)
	logger.Named("buffer").Debugw("buffer removed", "key", key.String())
	return nil
}

// Count returns the number of live buffer handles, for diagnostics.
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buffers)
}

// All returns a snapshot slice of currently registered buffers.
func (p *Provider) All() []*Buffer {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Buffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		out = append(out, b)
	}
	return out
}

// NewShortID generates a fresh random short id suitable for embedding in a
// shm:// or pixmap:// URI (see shortBufferID in buffer.go).
func NewShortID() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "failed to generate buffer id")
	}
	return shortBufferID(raw), nil
}
