// Package engine implements the Instance Engine (spec.md §4.5): the
// single-threaded scheduler owning every widget Instance, its work-lists,
// its pause/resume and glance-bar gating state, and the update-in-flight
// monitor/fault contract.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/sohandler"
	"github.com/nicesj/widget-provider/watcher"
)

// State is an Instance's master-visible lifecycle state (spec.md §4.5).
type State int

const (
	StateUnknown State = iota
	StatePaused
	StateResumed
	StateDeleted
)

// DeleteReason mirrors the `delete` command's reason enum (spec.md §6).
type DeleteReason string

const (
	ReasonDefault   DeleteReason = "default"
	ReasonUninstall DeleteReason = "uninstall"
	ReasonUpgrade   DeleteReason = "upgrade"
	ReasonTerminate DeleteReason = "terminate"
	ReasonFault     DeleteReason = "fault"
	ReasonTemporary DeleteReason = "temporary"
	ReasonUnknown   DeleteReason = "unknown"
)

// listMembership records which of the four work-lists (at most one) an
// instance currently belongs to (spec.md §4.5 scheduling rules 4-6).
type listMembership int

const (
	listNone listMembership = iota
	listPending
	listForceUpdate
	listGbarOpenPending
	listHidden
)

// Identity is an instance's stable key (spec.md §3 "Instance").
type Identity struct {
	PackageID  string
	InstanceID string // URI of the form file:///...
}

// Instance is the unit the engine schedules (spec.md §3 "Instance").
type Instance struct {
	Identity

	mu sync.Mutex

	Content string
	Title   string
	Icon    string
	Name    string

	Cluster, Category string
	Width, Height     int
	SizeClass         string
	Period            time.Duration
	Orientation       int
	Timeout           time.Duration
	HasWidgetScript   bool

	state State

	monitor       *time.Timer // in-flight update timeout guard
	monitorCount  int         // expected file-updated events, >=0
	lastUpdateAt  time.Time
	heavyUpdating bool

	periodicTimer  *time.Timer
	updatedInPause int // count of updates produced while globally paused

	deleteme bool
	unloadSO bool

	isWidgetShow bool
	isGbarShow   bool

	directAddrs map[string]int // refcounted viewer addresses; no registration order is kept

	widgetBuffer *buffer.Buffer
	gbarBuffer   *buffer.Buffer

	// fileReg/descReg are this instance's Update Monitor registrations on
	// its own image file and ".desc" companion (spec.md §4.4, grounded on
	// widget.c's add_file_update_monitor/add_desc_update_monitor); nil when
	// the engine was built without a watcher.Monitor.
	fileReg *watcher.Registration
	descReg *watcher.Registration

	pkg *sohandler.Package

	membership listMembership

	// holdScroll/activeUpdate/degree mirror the `renew` payload's extra
	// fields (spec.md §6 "renew").
	holdScroll   bool
	activeUpdate bool
	degree       int
}

// NewInstance constructs an Instance in state Unknown (spec.md §4.5
// "created by an inbound new or renew").
func NewInstance(id Identity, pkg *sohandler.Package) *Instance {
	return &Instance{
		Identity:    id,
		pkg:         pkg,
		state:       StateUnknown,
		directAddrs: make(map[string]int),
	}
}

// State returns the instance's current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// SetState transitions the instance's state. Paused/Resumed toggling is
// driven by the engine's pause/resume handling (spec.md §4.5 transitions).
func (i *Instance) SetState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// MarkDeleteme sets the deferred-destroy latch: actual teardown happens
// once the in-flight monitor drains (spec.md §4.5 "Deleted★").
func (i *Instance) MarkDeleteme() {
	i.mu.Lock()
	i.deleteme = true
	i.mu.Unlock()
}

// IsDeleteme reports the deferred-destroy latch.
func (i *Instance) IsDeleteme() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.deleteme
}

// SetUnloadSO ORs reason's unload requirement into the sticky unload-so
// flag (spec.md §3 "unload-so").
func (i *Instance) SetUnloadSO(unload bool) {
	if !unload {
		return
	}
	i.mu.Lock()
	i.unloadSO = true
	i.mu.Unlock()
}

// UnloadSO reports whether this instance's destruction requires unloading
// its package.
func (i *Instance) UnloadSO() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unloadSO
}

// HasInFlightMonitor reports whether an update is currently in flight.
func (i *Instance) HasInFlightMonitor() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.monitor != nil
}

// MonitorCount returns the expected file-updated event count.
func (i *Instance) MonitorCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.monitorCount
}

// SetExtraInfo replaces the instance's four text fields, each update
// logically freeing its predecessor (spec.md §4.5 "Extra-info
// propagation"); in Go this is simply reassignment.
func (i *Instance) SetExtraInfo(content, title, icon, name string) {
	i.mu.Lock()
	if content != "" {
		i.Content = content
	}
	if title != "" {
		i.Title = title
	}
	if icon != "" {
		i.Icon = icon
	}
	if name != "" {
		i.Name = name
	}
	i.mu.Unlock()
}

// AddDirectAddr refcounts address into the instance's direct viewer set.
// The set is a map and does not record registration order, so the order
// of DirectAddrs, and of the direct fan-out built on it, is not defined.
func (i *Instance) AddDirectAddr(addr string) {
	i.mu.Lock()
	i.directAddrs[addr]++
	i.mu.Unlock()
}

// RemoveDirectAddr decrements an address's refcount, dropping it at zero.
func (i *Instance) RemoveDirectAddr(addr string) {
	i.mu.Lock()
	if n, ok := i.directAddrs[addr]; ok {
		if n <= 1 {
			delete(i.directAddrs, addr)
		} else {
			i.directAddrs[addr] = n - 1
		}
	}
	i.mu.Unlock()
}

// DirectAddrs returns a snapshot of the currently registered viewer
// addresses, in no defined order.
func (i *Instance) DirectAddrs() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.directAddrs))
	for addr := range i.directAddrs {
		out = append(out, addr)
	}
	return out
}

// WidgetBuffer/SetWidgetBuffer and GbarBuffer/SetGbarBuffer expose the
// instance's weak references to its Buffer Provider objects (spec.md §3
// "pixmap/buffer handle"), used by the Provider Protocol to route input
// events and to decide whether extra-info needs its own protocol frame.
func (i *Instance) WidgetBuffer() *buffer.Buffer {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.widgetBuffer
}

func (i *Instance) SetWidgetBuffer(b *buffer.Buffer) {
	i.mu.Lock()
	i.widgetBuffer = b
	i.mu.Unlock()
}

func (i *Instance) GbarBuffer() *buffer.Buffer {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gbarBuffer
}

func (i *Instance) SetGbarBuffer(b *buffer.Buffer) {
	i.mu.Lock()
	i.gbarBuffer = b
	i.mu.Unlock()
}

// SetWidgetShow records the script-level is-widget-show flag, which the
// protocol's widget_pause/widget_resume handling maintains (spec.md §3
// "is-widget-show"); is-gbar-show is set by OpenGbar/CloseGbar.
func (i *Instance) SetWidgetShow(shown bool) {
	i.mu.Lock()
	i.isWidgetShow = shown
	i.mu.Unlock()
}

// SetPeriod updates the instance's periodic-update interval, as carried by
// the `set_period` command (spec.md §6).
func (i *Instance) SetPeriod(period time.Duration) {
	i.mu.Lock()
	i.Period = period
	i.mu.Unlock()
}

// SetRenewFlags records the extra fields a `renew` payload carries beyond
// `new` (spec.md §6 "renew ... adds hold_scroll, active_update").
func (i *Instance) SetRenewFlags(holdScroll, activeUpdate bool) {
	i.mu.Lock()
	i.holdScroll = holdScroll
	i.activeUpdate = activeUpdate
	i.mu.Unlock()
}

// SetActiveUpdate updates the active-update flag outside of a `renew`
// payload, as carried by the `update_mode` command (spec.md §6 "see
// source" — original_source's master_update_mode, format `ssi`).
func (i *Instance) SetActiveUpdate(active bool) {
	i.mu.Lock()
	i.activeUpdate = active
	i.mu.Unlock()
}

// ActiveUpdate reports the current active-update flag.
func (i *Instance) ActiveUpdate() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.activeUpdate
}

// Pkg returns the package this instance belongs to, for protocol handlers
// that need to invoke an SO-Handler façade method directly.
func (i *Instance) Pkg() *sohandler.Package {
	return i.pkg
}

// correlationID generates a fresh random UUID string.
func correlationID() string {
	return uuid.NewString()
}
