package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
)

// Handler processes one inbound request frame and optionally returns a
// reply frame (spec.md §4.1 "A receiver dispatch table maps command tag →
// handler").
type Handler func(conn *Connection, f Frame) (*Frame, error)

// Hooks are invoked on the connection's owning event loop goroutine: never
// concurrently with frame dispatch (spec.md §4.1 "Connections have two
// event hooks... invoked on the owning event loop").
type Hooks struct {
	Connected    func(conn *Connection)
	Disconnected func(conn *Connection)
}

// Connection wraps one framed-message socket: the slave-master control
// socket, or a direct viewer socket. Send is effectively single-threaded
// per spec.md §4.1 ("No concurrency is introduced by the transport"); the
// mutex here only serializes writes from the one loop goroutine against an
// occasional out-of-loop caller (e.g. widgetctl's admin path).
type Connection struct {
	conn  net.Conn
	table *CommandTable
	r     *bufio.Reader

	writeMu sync.Mutex
	limiter *rate.Limiter // optional per-connection send shaping

	dispatch map[string]Handler
	hooks    Hooks

	seq uint32

	pending   map[uint32]chan Frame
	pendingMu sync.Mutex

	disconnectOnce sync.Once
	closed         atomic.Bool
}

// Options configures a Connection.
type Options struct {
	Table        *CommandTable
	SendRateHz   float64 // 0 disables shaping
	SendBurst    int
	Dispatch     map[string]Handler
	Hooks        Hooks
}

// NewConnection wraps an established net.Conn.
func NewConnection(nc net.Conn, opts Options) *Connection {
	table := opts.Table
	if table == nil {
		table = DefaultCommandTable
	}

	c := &Connection{
		conn:     nc,
		table:    table,
		r:        bufio.NewReader(nc),
		dispatch: opts.Dispatch,
		hooks:    opts.Hooks,
		pending:  make(map[uint32]chan Frame),
	}
	if opts.SendRateHz > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.SendRateHz), opts.SendBurst)
	}
	return c
}

// nextSeq returns the next outbound sequence number.
func (c *Connection) nextSeq() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

// RequestWithAck sends f as a REQ frame and blocks until the matching ACK
// arrives (spec.md §4.1 "request-with-ack"). f.Seq is overwritten.
func (c *Connection) RequestWithAck(f Frame) (Frame, error) {
	f.Type = PacketREQ
	seq := c.nextSeq()
	f.Seq = seq

	ch := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}()

	if err := c.send(f); err != nil {
		return Frame{}, err
	}

	reply, ok := <-ch
	if !ok {
		return Frame{}, errors.Newf("connection closed while awaiting ack for %s", f.Command)
	}
	return reply, nil
}

// RequestNoAck sends f as fire-and-forget (spec.md §4.1 "request-no-ack").
func (c *Connection) RequestNoAck(f Frame) error {
	f.Type = PacketREQNoAck
	f.Seq = c.nextSeq()
	return c.send(f)
}

// Reply builds and sends an ACK frame correlated to an inbound request,
// preserving its sequence number (spec.md §4.1 "reply").
func (c *Connection) Reply(req Frame, command string, payload []byte) error {
	return c.send(Frame{Command: command, Type: PacketACK, Seq: req.Seq, Payload: payload})
}

func (c *Connection) send(f Frame) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return errors.Wrap(err, "send rate limiter")
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, c.table, f)
}

// Serve runs the receive loop until the connection closes or ctx-like
// cancellation happens via Close. This is the "owning event loop" frame
// source; handler invocations all happen on this goroutine, matching
// spec.md §4.1's single-threaded dispatch guarantee even when an optional
// pump goroutine (see Pump) is feeding a software queue instead.
func (c *Connection) Serve() error {
	if c.hooks.Connected != nil {
		c.hooks.Connected(c)
	}
	defer c.fireDisconnected()

	for {
		f, err := ReadFrame(c.r, c.table)
		if err != nil {
			return err
		}
		c.dispatchOne(f)
	}
}

func (c *Connection) dispatchOne(f Frame) {
	if f.Type == PacketACK {
		c.pendingMu.Lock()
		ch, ok := c.pending[f.Seq]
		c.pendingMu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	handler, ok := c.dispatch[f.Command]
	if !ok {
		logger.Named("transport").Warnw("no handler for command", "command", f.Command)
		return
	}

	reply, err := handler(c, f)
	if err != nil {
		logger.Named("transport").Warnw("handler failed", "command", f.Command, "error", err)
		return
	}
	if reply != nil && f.Type == PacketREQ {
		if err := c.Reply(f, reply.Command, reply.Payload); err != nil {
			logger.Named("transport").Warnw("failed to send reply", "command", f.Command, "error", err)
		}
	}
}

// fireDisconnected invokes the Disconnected hook exactly once, even if
// Serve's read loop exits more than once through overlapping call paths
// (e.g. a pump goroutine and a direct Close racing).
func (c *Connection) fireDisconnected() {
	c.disconnectOnce.Do(func() {
		c.closed.Store(true)

		c.pendingMu.Lock()
		for seq, ch := range c.pending {
			close(ch)
			delete(c.pending, seq)
		}
		c.pendingMu.Unlock()

		if c.hooks.Disconnected != nil {
			c.hooks.Disconnected(c)
		}
	})
}

// Close closes the underlying socket. Safe to call from outside the event
// loop; the disconnect hook still fires at most once.
func (c *Connection) Close() error {
	err := c.conn.Close()
	c.fireDisconnected()
	return err
}

// IsClosed reports whether the disconnect hook has already fired.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}
