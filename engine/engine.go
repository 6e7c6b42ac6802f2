package engine

import (
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
	"github.com/nicesj/widget-provider/sohandler"
	"github.com/nicesj/widget-provider/watcher"
)

// ProtocolSink is the subset of the Provider Protocol the engine drives
// outbound frames through. Defined here (rather than importing the
// protocol package) to keep protocol on top of the dependency stack:
// protocol implements this interface and engine only depends on the
// interface (spec.md §4.6 "Outbound commands... are emitted synchronously
// from engine code paths").
type ProtocolSink interface {
	SendDeleted(id Identity, reason DeleteReason) error
	SendFaulted(id Identity, reason string) error
	SendExtraInfo(id Identity, content, title, icon, name string, priority float64) error
	SendDirectUpdated(addr string, id Identity, region buffer.DamageRegion, forGbar bool) error
	SendMasterUpdated(id Identity, region buffer.DamageRegion, forGbar bool) error
}

// Exiter abstracts process termination so the timeout-fault contract
// (spec.md §4.5 rule 7 "the timeout timer, if it fires, calls exit(ETIME)")
// is testable without actually killing the test binary.
type Exiter func(code int)

const exitCodeETIME = 62 // ETIME on Linux; matches the source program's exit status.

// Config bundles the engine's scheduling tunables (spec.md §6 "Environment
// variables", §3 defaults).
type Config struct {
	PendingInterval       time.Duration
	ForceUpdateInterval   time.Duration
	GbarPendingInterval   time.Duration
	HiddenInterval        time.Duration
	MinUpdateInterval     time.Duration
	DefaultTimeout        time.Duration
	Secured               bool
	UpdateOnPauseOverride bool
	ExtraBufferSlots      int
}

// Engine is the single-threaded scheduler owning every Instance
// (spec.md §4.5).
type Engine struct {
	cfg     Config
	sink    ProtocolSink
	handler *sohandler.Handler
	bufs    *buffer.Provider
	exit    Exiter
	monitor *watcher.Monitor

	mu        sync.Mutex
	instances map[Identity]*Instance

	pending     *WorkList
	forceUpdate *WorkList
	gbarPending *WorkList
	hidden      *WorkList

	globalPaused bool

	gbarMu   sync.Mutex
	gbarList map[Identity]bool // currently-open glance-bar instances

	rateMu    sync.Mutex
	rateLimit map[Identity]*rate.Limiter
}

// New constructs an Engine. sink, handler, and bufs are injected so engine
// never imports the protocol, sohandler-loading, or buffer-provider wiring
// directly beyond the interfaces/types it actually calls.
func New(cfg Config, sink ProtocolSink, handler *sohandler.Handler, bufs *buffer.Provider) *Engine {
	if cfg.PendingInterval <= 0 {
		cfg.PendingInterval = 100 * time.Millisecond
	}
	if cfg.ForceUpdateInterval <= 0 {
		cfg.ForceUpdateInterval = 100 * time.Millisecond
	}
	if cfg.GbarPendingInterval <= 0 {
		cfg.GbarPendingInterval = 100 * time.Millisecond
	}
	if cfg.HiddenInterval <= 0 {
		cfg.HiddenInterval = 500 * time.Millisecond
	}

	e := &Engine{
		cfg:       cfg,
		sink:      sink,
		handler:   handler,
		bufs:      bufs,
		exit:      func(code int) { os.Exit(code) },
		instances: make(map[Identity]*Instance),
		gbarList:  make(map[Identity]bool),
		rateLimit: make(map[Identity]*rate.Limiter),
	}

	e.pending = NewWorkList("pending", cfg.PendingInterval, e.consumePending)
	e.forceUpdate = NewWorkList("force-update", cfg.ForceUpdateInterval, e.consumeForceUpdate)
	e.gbarPending = NewWorkList("gbar-open-pending", cfg.GbarPendingInterval, nil)
	e.hidden = NewWorkList("hidden", cfg.HiddenInterval, nil)

	return e
}

// SetExiter overrides the process-termination hook; used by tests to
// observe the ETIME fault contract without exiting.
func (e *Engine) SetExiter(exit Exiter) { e.exit = exit }

// SetMonitor wires an Update Monitor into the engine: every instance
// created afterward registers its image file and ".desc" companion for
// file-updated/deleted dispatch (spec.md §4.4). Left nil, FileUpdated is
// only ever driven synthetically (e.g. by tests), matching the engine's
// behavior before the Update Monitor existed.
func (e *Engine) SetMonitor(m *watcher.Monitor) { e.monitor = m }

// Get looks up a live instance by identity.
func (e *Engine) Get(id Identity) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[id]
	return inst, ok
}

// Instances returns a snapshot of every live instance, used by the
// disconnect mass-destruction path and by widgetctl's status view.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, inst)
	}
	return out
}

// InstancesForPackage returns every live instance belonging to packageID,
// used by update_content's "empty id = burst every instance of the
// package" behavior (spec.md §6 "update_content").
func (e *Engine) InstancesForPackage(packageID string) []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instance, 0)
	for id, inst := range e.instances {
		if id.PackageID == packageID {
			out = append(out, inst)
		}
	}
	return out
}

// New creates (or re-creates, via renew) an instance. skipNeedToCreate
// bypasses the package's create_needed probe (spec.md §4.3 SUPPLEMENTED
// "skip_need_to_create").
func (e *Engine) New(id Identity, pkg *sohandler.Package, content, cluster, category string, w, h int, skipNeedToCreate bool) (*Instance, error) {
	e.mu.Lock()
	if existing, ok := e.instances[id]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	if err := e.handler.EnsureInitialized(pkg); err != nil {
		return nil, errors.Wrapf(err, "instance %s/%s: initialize package", id.PackageID, id.InstanceID)
	}

	if !skipNeedToCreate {
		needed, err := e.handler.SOCreateNeeded(pkg, content, cluster, category)
		if err != nil && !errors.Is(err, errors.ErrNotSupported) {
			return nil, errors.Wrapf(err, "instance %s/%s: create_needed", id.PackageID, id.InstanceID)
		}
		if err == nil && !needed {
			return nil, errors.Wrapf(errors.ErrInvalidArg, "instance %s/%s: create_needed declined", id.PackageID, id.InstanceID)
		}
	}

	inst := NewInstance(id, pkg)
	inst.Content, inst.Cluster, inst.Category = content, cluster, category
	inst.Width, inst.Height = w, h

	if err := e.handler.SOCreate(pkg, id.InstanceID, content, cluster, category, w, h); err != nil {
		return nil, errors.Wrapf(err, "instance %s/%s: create", id.PackageID, id.InstanceID)
	}

	key := buffer.Key{Kind: buffer.KindFile, PackageID: id.PackageID, InstanceID: id.InstanceID}
	if buf, err := e.bufs.Create(key, true, nil, nil, e.cfg.ExtraBufferSlots); err != nil {
		logger.Named("engine").Warnw("buffer allocation failed", "package_id", id.PackageID, "instance_id", id.InstanceID, "error", err)
	} else {
		inst.SetWidgetBuffer(buf)
	}

	e.mu.Lock()
	e.instances[id] = inst
	e.mu.Unlock()

	e.registerUpdateMonitor(inst)

	return inst, nil
}

// registerUpdateMonitor arms inst's Update Monitor registrations on its
// image file and ".desc" companion, both routed to FileUpdated with
// forGbar=false (this engine does not allocate a separate gbar buffer, see
// DESIGN.md's gbar buffer event handler decision, so there is no second
// path to watch). A no-op when the engine was built without a monitor.
func (e *Engine) registerUpdateMonitor(inst *Instance) {
	if e.monitor == nil {
		return
	}

	cb := func(filename string, overflow bool) error {
		region := buffer.DamageRegion{}
		if buf := inst.WidgetBuffer(); buf != nil {
			region = buffer.FullDamage(buf.Geometry())
		}
		return e.FileUpdated(inst, region, false)
	}

	inst.fileReg = e.monitor.RegisterUpdated(watcher.Filename(inst.InstanceID), cb)
	inst.descReg = e.monitor.RegisterUpdated(watcher.DescFilename(inst.InstanceID), cb)
}

// unregisterUpdateMonitor tears down inst's Update Monitor registrations,
// mirroring widget.c's update_monitor_del (called from destroy).
func (e *Engine) unregisterUpdateMonitor(inst *Instance) {
	if e.monitor == nil {
		return
	}
	e.monitor.Unregister(inst.fileReg)
	e.monitor.Unregister(inst.descReg)
	inst.fileReg = nil
	inst.descReg = nil
}

// Renew re-materializes an instance after a slave restart, reading back
// is_pinned_up from the widget (spec.md §8 scenario S2 "SUPPLEMENTED
// FEATURES").
func (e *Engine) Renew(id Identity, pkg *sohandler.Package, content, cluster, category string, w, h int) (*Instance, bool, error) {
	inst, err := e.New(id, pkg, content, cluster, category, w, h, true)
	if err != nil {
		return nil, false, err
	}

	pinned, err := e.handler.SOIsPinnedUp(pkg, id.InstanceID)
	if err != nil && !errors.Is(err, errors.ErrNotSupported) {
		return inst, false, errors.Wrapf(err, "instance %s/%s: is_pinned_up readback", id.PackageID, id.InstanceID)
	}
	return inst, pinned, nil
}

// Delete destroys inst immediately, or defers to the in-flight monitor's
// drain if an update is outstanding (spec.md §4.5 "Deleted★").
func (e *Engine) Delete(inst *Instance, reason DeleteReason) error {
	if inst.HasInFlightMonitor() {
		inst.MarkDeleteme()
		return nil
	}
	return e.destroy(inst, reason)
}

func (e *Engine) destroy(inst *Instance, reason DeleteReason) error {
	e.unregisterUpdateMonitor(inst)

	if err := e.handler.SODestroy(inst.pkg, inst.InstanceID, string(reason)); err != nil {
		logger.Named("engine").Warnw("destroy capability failed", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
	}

	e.pending.Remove(inst)
	e.forceUpdate.Remove(inst)
	e.gbarPending.Remove(inst)
	e.hidden.Remove(inst)

	e.gbarMu.Lock()
	delete(e.gbarList, inst.Identity)
	e.gbarMu.Unlock()

	e.mu.Lock()
	delete(e.instances, inst.Identity)
	e.mu.Unlock()

	key := buffer.Key{Kind: buffer.KindFile, PackageID: inst.PackageID, InstanceID: inst.InstanceID}
	if err := e.bufs.Remove(key); err != nil && !errors.Is(err, errors.ErrNotFound) {
		logger.Named("engine").Warnw("buffer release failed", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
	}

	if err := e.handler.Release(inst.pkg); err != nil {
		return errors.Wrapf(err, "instance %s/%s: release package", inst.PackageID, inst.InstanceID)
	}

	if err := e.sink.SendDeleted(inst.Identity, reason); err != nil {
		logger.Named("engine").Warnw("failed to send deleted", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
	}
	return nil
}

// rateLimiterFor returns (creating if needed) a per-instance token bucket
// refilled once per MIN_UPDATE_INTERVAL. The update path does not consult
// it: beginUpdateMonitor's too-fast check (spec.md §4.5 rule 8) compares
// the instance's last update time against MinUpdateInterval instead.
func (e *Engine) rateLimiterFor(inst *Instance) *rate.Limiter {
	e.rateMu.Lock()
	defer e.rateMu.Unlock()
	l, ok := e.rateLimit[inst.Identity]
	if !ok {
		interval := e.cfg.MinUpdateInterval
		if interval <= 0 {
			interval = time.Second
		}
		l = rate.NewLimiter(rate.Every(interval), 1)
		e.rateLimit[inst.Identity] = l
	}
	return l
}
