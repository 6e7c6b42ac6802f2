// Package daemon wires the six components (Transport, Buffer Provider,
// SO-Handler, Update Monitor, Instance Engine, Provider Protocol) into the one long-lived
// object the widget-provider command drives: accept the master's control
// connection, run its event loop, and tear everything down on exit.
package daemon

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/config"
	"github.com/nicesj/widget-provider/engine"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
	"github.com/nicesj/widget-provider/protocol"
	"github.com/nicesj/widget-provider/sohandler"
	"github.com/nicesj/widget-provider/transport"
	"github.com/nicesj/widget-provider/watcher"
)

// Daemon owns the long-lived wiring for one slave process. The master
// normally opens a single control connection (spec.md §4.6); every
// connection Serve accepts shares the one Protocol and Instance Engine.
type Daemon struct {
	cfg *config.Config

	bufs    *buffer.Provider
	handler *sohandler.Handler
	eng     *engine.Engine
	proto   *protocol.Protocol
	monitor *watcher.Monitor

	debug    *protocol.DebugFanOut
	adminSrv *http.Server
	adminLn  net.Listener

	mu     sync.Mutex
	conns  map[*transport.Connection]struct{}
	closed bool
}

// rpcProxy forwards buffer.MasterRPC calls to a *protocol.Protocol set
// after construction, breaking the New(engine)/New(buffer provider)
// construction cycle: the buffer Provider and the Engine both need their
// RPC/sink before the Protocol that implements it can be built, since the
// Protocol itself needs the already-built Provider and Engine.
type rpcProxy struct {
	target *protocol.Protocol
}

func (r *rpcProxy) AcquireBuffer(key buffer.Key, slot, w, h, bpp int) (string, error) {
	return r.target.AcquireBuffer(key, slot, w, h, bpp)
}
func (r *rpcProxy) ReleaseBuffer(key buffer.Key, slot int) error {
	return r.target.ReleaseBuffer(key, slot)
}
func (r *rpcProxy) ResizeBuffer(key buffer.Key, slot, w, h int) (string, error) {
	return r.target.ResizeBuffer(key, slot, w, h)
}
func (r *rpcProxy) SendUpdated(key buffer.Key, slot int, region buffer.DamageRegion, forGbar bool, descFile string) error {
	return r.target.SendUpdated(key, slot, region, forGbar, descFile)
}
func (r *rpcProxy) SendDirectBufferUpdated(fd int, key buffer.Key, slot int, region buffer.DamageRegion, forGbar bool, descFile string) error {
	return r.target.SendDirectBufferUpdated(fd, key, slot, region, forGbar, descFile)
}

// sinkProxy is rpcProxy's counterpart for engine.ProtocolSink.
type sinkProxy struct {
	target *protocol.Protocol
}

func (s *sinkProxy) SendDeleted(id engine.Identity, reason engine.DeleteReason) error {
	return s.target.SendDeleted(id, reason)
}
func (s *sinkProxy) SendFaulted(id engine.Identity, reason string) error {
	return s.target.SendFaulted(id, reason)
}
func (s *sinkProxy) SendExtraInfo(id engine.Identity, content, title, icon, name string, priority float64) error {
	return s.target.SendExtraInfo(id, content, title, icon, name, priority)
}
func (s *sinkProxy) SendDirectUpdated(addr string, id engine.Identity, region buffer.DamageRegion, forGbar bool) error {
	return s.target.SendDirectUpdated(addr, id, region, forGbar)
}
func (s *sinkProxy) SendMasterUpdated(id engine.Identity, region buffer.DamageRegion, forGbar bool) error {
	return s.target.SendMasterUpdated(id, region, forGbar)
}

// New builds the full component graph for cfg but does not start serving.
func New(cfg *config.Config) (*Daemon, error) {
	handler := sohandler.NewHandler(sohandler.NewLoader(sohandler.ModulePaths{
		LibexecSearchPaths: cfg.LibexecSearchPaths,
		AdaptorModulePath:  cfg.AdaptorModulePath,
	}))

	rpc := &rpcProxy{}
	bufs := buffer.NewProvider(rpc)

	sink := &sinkProxy{}
	eng := engine.New(engine.Config{
		MinUpdateInterval: cfg.MinUpdateInterval,
		DefaultTimeout:    cfg.DefaultTimeout,
		Secured:           cfg.Secured,
		ExtraBufferSlots:  cfg.ExtraBufferSlots,
	}, sink, handler, bufs)

	imageDir := cfg.ImageDirectory
	if imageDir == "" {
		// Config built outside the viper loader (e.g. tests) may leave
		// this unset; fall back to the same default config.go registers.
		imageDir = "/tmp/.widget.service.images"
	}
	var monitor *watcher.Monitor
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		logger.Named("daemon").Warnw("update monitor disabled: cannot create image directory", "dir", imageDir, "error", err)
	} else if m, err := watcher.NewMonitor(imageDir); err != nil {
		logger.Named("daemon").Warnw("update monitor disabled", "dir", imageDir, "error", err)
	} else {
		monitor = m
		eng.SetMonitor(monitor)
	}

	var debug *protocol.DebugFanOut
	if cfg.AdminSocketPath != "" {
		debug = protocol.NewDebugFanOut()
	}

	proto := protocol.New(protocol.Deps{
		Engine:    eng,
		Buffers:   bufs,
		Handler:   handler,
		SlaveName: cfg.SlaveName,
		ABI:       cfg.ABI,
		HWAccel:   cfg.HWAccel,
		PingEvery: cfg.PingInterval,
		Debug:     debug,
	})
	rpc.target = proto
	sink.target = proto

	d := &Daemon{
		cfg:     cfg,
		bufs:    bufs,
		handler: handler,
		eng:     eng,
		proto:   proto,
		monitor: monitor,
		debug:   debug,
		conns:   make(map[*transport.Connection]struct{}),
	}

	if debug != nil {
		mux := http.NewServeMux()
		mux.Handle("/watch", debug)
		mux.HandleFunc("/status", d.serveStatus)
		d.adminSrv = &http.Server{Handler: mux}
	}

	return d, nil
}

// Status is the JSON body the admin socket's /status endpoint serves for
// widgetctl's status/top subcommands (ambient observability only, see
// SPEC_FULL.md DOMAIN STACK — not part of the master/viewer wire protocol).
type Status struct {
	SlaveName      string `json:"slave_name"`
	InstanceCount  int    `json:"instance_count"`
	GloballyPaused bool   `json:"globally_paused"`
}

func (d *Daemon) serveStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		SlaveName:      d.cfg.SlaveName,
		InstanceCount:  len(d.eng.Instances()),
		GloballyPaused: d.eng.IsGlobalPaused(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// Serve accepts connections from ln until it closes or an unrecoverable
// error occurs. Each accepted connection is served on its own goroutine
// and attached to the single shared Protocol, so outbound frames go to
// whichever connection was attached last.
func (d *Daemon) Serve(ln net.Listener) error {
	if d.monitor != nil {
		d.monitor.Run()
	}

	if d.adminSrv != nil {
		adminLn, err := net.Listen("unix", d.cfg.AdminSocketPath)
		if err != nil {
			logger.Named("daemon").Warnw("admin socket disabled", "error", err)
		} else {
			d.adminLn = adminLn
			go d.serveAdmin()
		}
	}

	for {
		nc, err := ln.Accept()
		if err != nil {
			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go d.handleConn(nc)
	}
}

func (d *Daemon) handleConn(nc net.Conn) {
	conn := transport.NewConnection(nc, transport.Options{
		Dispatch: d.proto.DispatchTable(),
		Hooks:    d.proto.Hooks(),
	})
	d.proto.Attach(conn)

	d.mu.Lock()
	d.conns[conn] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
	}()

	if err := conn.Serve(); err != nil {
		logger.Named("daemon").Debugw("control connection closed", "error", err)
	}
}

func (d *Daemon) serveAdmin() {
	if err := d.adminSrv.Serve(d.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Named("daemon").Warnw("admin listener failed", "error", err)
	}
}

// Reload records a freshly reloaded config on the Daemon. The components
// keep the tunables they were built with (work-list intervals, buffer slot
// counts, the ping cadence), so no setting takes effect until restart.
func (d *Daemon) Reload(cfg *config.Config) error {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	logger.Named("daemon").Infow("config reloaded; most settings require a restart to take effect")
	return nil
}

// Close tears down every live connection and stops accepting new ones.
func (d *Daemon) Close() error {
	d.mu.Lock()
	d.closed = true
	conns := make([]*transport.Connection, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if d.monitor != nil {
		if err := d.monitor.Close(); err != nil {
			logger.Named("daemon").Warnw("update monitor close failed", "error", err)
		}
	}
	if d.adminSrv != nil {
		err := d.adminSrv.Close()
		os.Remove(d.cfg.AdminSocketPath)
		return err
	}
	return nil
}
