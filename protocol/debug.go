package protocol

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nicesj/widget-provider/logger"
	"github.com/nicesj/widget-provider/transport"
)

// DebugFanOut mirrors every outbound frame to zero or more `widgetctl
// watch` clients over a local websocket, purely for live operator
// observability (ambient concern, not part of the master/viewer wire
// protocol — see SPEC_FULL.md DOMAIN STACK).
type DebugFanOut struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewDebugFanOut constructs an empty fan-out hub.
func NewDebugFanOut() *DebugFanOut {
	return &DebugFanOut{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // localhost-only debug endpoint
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades an inbound request to a websocket and registers it as
// a fan-out client until it disconnects.
func (d *DebugFanOut) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Named("protocol").Warnw("debug fan-out upgrade failed", "error", err)
		return
	}

	d.mu.Lock()
	d.clients[conn] = struct{}{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.clients, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	// The connection is write-only from the hub's side; read until the
	// client goes away so Close() unblocks promptly.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Mirror broadcasts one outbound frame's command and payload length to
// every connected debug client, best-effort.
func (d *DebugFanOut) Mirror(f transport.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for conn := range d.clients {
		if err := conn.WriteJSON(struct {
			Command string `json:"command"`
			Bytes   int    `json:"bytes"`
		}{Command: f.Command, Bytes: len(f.Payload)}); err != nil {
			logger.Named("protocol").Debugw("debug fan-out write failed", "error", err)
		}
	}
}
