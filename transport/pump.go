package transport

import (
	"context"
	"sync"
	"time"

	"github.com/nicesj/widget-provider/logger"
)

// Pump optionally drains the receive socket into a software queue on its
// own goroutine; queued frames are still dispatched on the owning loop via
// Drain, preserving "handler dispatch is still single-threaded via an
// in-loop wakeup" (spec.md §4.1). The daemon does not construct a Pump: it
// serves each connection through Connection.Serve, and the com_core_thread
// setting (PROVIDER_COM_CORE_THREAD, spec.md §6) is read into the config
// but has no effect.
type Pump struct {
	conn *Connection

	mu     sync.Mutex
	queue  []Frame
	wakeup chan struct{}

	cancel context.CancelFunc
}

// NewPump constructs a pump bound to conn. It does not start until Start
// is called.
func NewPump(conn *Connection) *Pump {
	return &Pump{
		conn:   conn,
		wakeup: make(chan struct{}, 1),
	}
}

// Start begins reading frames into the software queue on a background
// goroutine.
func (p *Pump) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.readLoop(ctx)
}

// Stop halts the pump goroutine.
func (p *Pump) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pump) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := ReadFrame(p.conn.r, p.conn.table)
		if err != nil {
			logger.Named("transport").Debugw("pump read loop exiting", "error", err)
			return
		}

		p.mu.Lock()
		p.queue = append(p.queue, f)
		p.mu.Unlock()

		select {
		case p.wakeup <- struct{}{}:
		default:
		}
	}
}

// Wakeup is a channel the owning loop selects on; a signal means Drain has
// work.
func (p *Pump) Wakeup() <-chan struct{} { return p.wakeup }

// Drain dispatches every frame queued by the pump goroutine, running on
// the caller's (owning-loop) goroutine.
func (p *Pump) Drain() {
	p.mu.Lock()
	frames := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, f := range frames {
		p.conn.dispatchOne(f)
	}
}

// PingTicker drives the outbound ping liveness tick at
// DEFAULT_PING_TIME/2 (spec.md §6 "ping... every DEFAULT_PING_TIME/2"),
// pausable in lockstep with the engine's global pause state.
type PingTicker struct {
	interval time.Duration

	mu      sync.Mutex
	paused  bool
	ticker  *time.Ticker
	cancel  context.CancelFunc
	onTick  func()
}

// NewPingTicker constructs a ticker that calls onTick every interval while
// not paused.
func NewPingTicker(interval time.Duration, onTick func()) *PingTicker {
	return &PingTicker{interval: interval, onTick: onTick}
}

// Start begins the ping loop.
func (t *PingTicker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.ticker = time.NewTicker(t.interval)
	go t.loop(ctx)
}

// Stop halts the ping loop.
func (t *PingTicker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

// SetPaused freezes or thaws ticking, mirroring the engine's global
// pause/resume state (spec.md §4.5 rule #2).
func (t *PingTicker) SetPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

func (t *PingTicker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.C:
			t.mu.Lock()
			paused := t.paused
			t.mu.Unlock()
			if !paused && t.onTick != nil {
				t.onTick()
			}
		}
	}
}
