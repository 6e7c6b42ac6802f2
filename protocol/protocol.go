// Package protocol implements the Provider Protocol (spec.md §4.6): the
// command table registered with Transport, the wire codec glue for every
// inbound/outbound command in the catalogue, and the top-level object
// wiring Transport, the Instance Engine, the Buffer Provider, and the
// SO-Handler together.
package protocol

import (
	"context"
	"time"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/engine"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
	"github.com/nicesj/widget-provider/sohandler"
	"github.com/nicesj/widget-provider/transport"
)

// PackageResolver loads a package's code module on demand, bridging
// inbound `new`/`renew` commands (which only carry a package_id and ABI
// tag) to the SO-Handler.
type PackageResolver interface {
	Resolve(packageID, abiTag string, timeout int, hasWidgetScript bool) (*sohandler.Package, error)
}

type defaultResolver struct {
	handler *sohandler.Handler
}

func (r *defaultResolver) Resolve(packageID, abiTag string, timeout int, hasWidgetScript bool) (*sohandler.Package, error) {
	return r.handler.Load(packageID, abiTag, timeout, hasWidgetScript)
}

// Protocol wires Transport's frame dispatch to the Instance Engine and
// Buffer Provider, and implements engine.ProtocolSink / buffer.MasterRPC
// so those packages never import this one (spec.md §4.6).
type Protocol struct {
	conn     *transport.Connection
	eng      *engine.Engine
	bufs     *buffer.Provider
	handler  *sohandler.Handler
	resolver PackageResolver

	slaveName string
	abi       string
	hwAccel   string

	pingEvery time.Duration
	ping      *transport.PingTicker

	runCtx    context.Context
	runCancel context.CancelFunc

	directConns *DirectConnRegistry

	debug *DebugFanOut // nil disables the optional widgetctl-watch fan-out
}

// errUnknownInstance is returned when an inbound command names a
// (package_id, instance_id) pair the engine has no live instance for.
var errUnknownInstance = errors.New("protocol: unknown instance")

// Deps bundles Protocol's constructor dependencies.
type Deps struct {
	Engine    *engine.Engine
	Buffers   *buffer.Provider
	Handler   *sohandler.Handler
	SlaveName string
	ABI       string
	HWAccel   string
	PingEvery time.Duration
	Debug     *DebugFanOut
}

// New constructs a Protocol. Call Attach once the Connection exists, since
// Connection's Options need this Protocol's dispatch table at construction
// time (a chicken-and-egg resolved by building the table from closures over
// p before the socket is even accepted).
func New(deps Deps) *Protocol {
	if deps.PingEvery <= 0 {
		deps.PingEvery = 1 * time.Second // DEFAULT_PING_TIME/2 (spec.md §6)
	}
	p := &Protocol{
		eng:         deps.Engine,
		bufs:        deps.Buffers,
		handler:     deps.Handler,
		resolver:    &defaultResolver{handler: deps.Handler},
		slaveName:   deps.SlaveName,
		abi:         deps.ABI,
		hwAccel:     deps.HWAccel,
		pingEvery:   deps.PingEvery,
		directConns: NewDirectConnRegistry(),
		debug:       deps.Debug,
	}
	p.ping = transport.NewPingTicker(p.pingEvery, p.sendPing)
	return p
}

// Attach binds conn as the transport connection this Protocol drives.
// Callers build conn with Options{Dispatch: p.DispatchTable(), Hooks:
// p.Hooks()}.
func (p *Protocol) Attach(conn *transport.Connection) {
	p.conn = conn
}

// Hooks returns the Connected/Disconnected hooks Connection should use.
func (p *Protocol) Hooks() transport.Hooks {
	return transport.Hooks{
		Connected:    p.onConnected,
		Disconnected: p.onDisconnected,
	}
}

func (p *Protocol) onConnected(conn *transport.Connection) {
	p.runCtx, p.runCancel = context.WithCancel(context.Background())
	p.ping.Start(p.runCtx)

	if err := conn.RequestNoAck(transport.Frame{
		Command: "hello",
		Payload: transport.EncodeHello(transport.HelloInfo{
			ProtocolVersion: 1,
			SlaveName:       p.slaveName,
			ABI:             p.abi,
			HWAccel:         p.hwAccel,
		}),
	}); err != nil {
		logger.Named("protocol").Warnw("hello send failed", "error", err)
	}
}

func (p *Protocol) onDisconnected(conn *transport.Connection) {
	p.ping.Stop()
	if p.runCancel != nil {
		p.runCancel()
	}
	p.massDestruction()
}

// massDestruction tears every instance down with reason fault
// (spec.md §4.6 "Disconnect").
func (p *Protocol) massDestruction() {
	logger.Named("protocol").Warnw("transport disconnected: mass destruction")
	for _, inst := range p.eng.Instances() {
		if err := p.eng.Delete(inst, engine.ReasonFault); err != nil {
			logger.Named("protocol").Warnw("mass-destruction delete failed", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
		}
	}
}

func (p *Protocol) sendPing() {
	f := transport.Frame{Command: "ping", Payload: transport.NewPayloadWriter().String(p.slaveName).Bytes()}
	if err := p.conn.RequestNoAck(f); err != nil {
		logger.Named("protocol").Warnw("ping send failed", "error", err)
		return
	}
	p.mirror(f)
}

// mirror forwards f to the optional widgetctl-watch debug fan-out.
func (p *Protocol) mirror(f transport.Frame) {
	if p.debug != nil {
		p.debug.Mirror(f)
	}
}

// SetGlobalPause toggles the engine's process-wide pause state and mirrors
// it onto the ping ticker in lockstep (spec.md §4.6 "The ping timer is
// paused/thawed together with the engine's global pause state").
func (p *Protocol) SetGlobalPause(paused bool) {
	p.eng.SetGlobalPause(paused)
	p.ping.SetPaused(paused)
}

// RequestHelloSync runs the sync-prepare/sync round: it sends a timestamp
// token, then the sync request itself, and decodes the reply that carries
// either an error code or the full create-argument tuple the engine feeds
// directly into the normal `new` path (spec.md §4.6 "hello_sync is used
// when the engine wants to receive the instance-creation payload inside
// the handshake reply").
func (p *Protocol) RequestHelloSync(timestamp float64) (transport.HelloSync, error) {
	if _, err := p.conn.RequestWithAck(transport.Frame{
		Command: "hello_sync_prepare",
		Payload: transport.EncodeHelloSyncPrepare(timestamp),
	}); err != nil {
		return transport.HelloSync{}, errors.Wrap(err, "hello_sync_prepare")
	}

	reply, err := p.conn.RequestWithAck(transport.Frame{Command: "hello_sync"})
	if err != nil {
		return transport.HelloSync{}, errors.Wrap(err, "hello_sync")
	}
	return transport.DecodeHelloSync(reply.Payload)
}
