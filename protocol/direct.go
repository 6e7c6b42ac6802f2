package protocol

import (
	"sync"

	"github.com/nicesj/widget-provider/transport"
)

// DirectConnRegistry tracks the direct viewer sockets opened alongside the
// master control connection, keyed by the address the `new` payload's
// direct_addr field named (spec.md §4.5 rule 9 "Direct viewer fan-out";
// §8 scenario S4 "Direct-addr fan-out with fallback").
type DirectConnRegistry struct {
	mu      sync.RWMutex
	conns   map[string]*transport.Connection
	byFD    map[int]*transport.Connection
}

// NewDirectConnRegistry constructs an empty registry.
func NewDirectConnRegistry() *DirectConnRegistry {
	return &DirectConnRegistry{
		conns: make(map[string]*transport.Connection),
		byFD:  make(map[int]*transport.Connection),
	}
}

// Register associates addr (and the out-of-band fd the `direct_connected`
// handoff carried) with an already-dialed direct connection.
func (r *DirectConnRegistry) Register(addr string, fd int, conn *transport.Connection) {
	r.mu.Lock()
	r.conns[addr] = conn
	if fd >= 0 {
		r.byFD[fd] = conn
	}
	r.mu.Unlock()
}

// Unregister drops addr and fd, e.g. when its socket disconnects.
func (r *DirectConnRegistry) Unregister(addr string, fd int) {
	r.mu.Lock()
	delete(r.conns, addr)
	delete(r.byFD, fd)
	r.mu.Unlock()
}

// Get returns the connection registered for addr, or nil.
func (r *DirectConnRegistry) Get(addr string) *transport.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[addr]
}

// GetByFD returns the connection registered for an out-of-band file
// descriptor, or nil.
func (r *DirectConnRegistry) GetByFD(fd int) *transport.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byFD[fd]
}
