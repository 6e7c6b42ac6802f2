package engine

import (
	"time"

	"github.com/nicesj/widget-provider/buffer"
	"github.com/nicesj/widget-provider/errors"
	"github.com/nicesj/widget-provider/logger"
	"github.com/nicesj/widget-provider/sohandler"
)

// armPeriodicTimer (re)arms inst's periodic tick (spec.md §4.5 rule 1).
func (e *Engine) armPeriodicTimer(inst *Instance, period time.Duration) {
	inst.mu.Lock()
	if inst.periodicTimer != nil {
		inst.periodicTimer.Stop()
	}
	inst.periodicTimer = time.AfterFunc(period, func() {
		e.RequestUpdate(inst, false)
		inst.mu.Lock()
		p := inst.Period
		inst.mu.Unlock()
		if p > 0 {
			e.armPeriodicTimer(inst, p)
		}
	})
	inst.mu.Unlock()
}

// ArmPeriodicUpdate (re)arms inst's periodic timer at period, or leaves it
// disarmed if period<=0 (spec.md §3 "period (non-negative seconds, 0 means
// disabled)"). Exported for the Provider Protocol's `new`/`renew`/
// `set_period` handlers.
func (e *Engine) ArmPeriodicUpdate(inst *Instance, period time.Duration) {
	inst.SetPeriod(period)
	if period <= 0 {
		return
	}
	e.armPeriodicTimer(inst, period)
}

// RequestUpdate enqueues inst for an update pass: force routes to the
// force-update list, otherwise to pending, subject to the gbar gating and
// hidden-instance rules (spec.md §4.5 rules 4-6).
func (e *Engine) RequestUpdate(inst *Instance, force bool) {
	inst.mu.Lock()
	globallyPaused := e.IsGlobalPaused()
	if globallyPaused && !e.cfg.UpdateOnPauseOverride {
		inst.updatedInPause++
		inst.mu.Unlock()
		return
	}
	hasWidgetScript := inst.HasWidgetScript
	isWidgetShow := inst.isWidgetShow
	inst.mu.Unlock()

	if force {
		if hasWidgetScript && !isWidgetShow {
			e.hidden.Push(inst)
			return
		}
		e.forceUpdate.Push(inst)
		return
	}

	state := e.gbarStateFor(inst)
	if state == GbarOpenedButNotMine {
		e.gbarPending.Push(inst)
		return
	}

	if e.pending.Contains(inst) || inst.HasInFlightMonitor() {
		return
	}
	e.pending.Push(inst)
}

// consumePending drains the pending list: skips instances already in
// flight, or parked behind a different package's open glance-bar
// (spec.md §4.5 rule 4).
func (e *Engine) consumePending(inst *Instance) {
	if inst.HasInFlightMonitor() {
		return
	}
	if e.gbarStateFor(inst) == GbarOpenedButNotMine {
		e.gbarPending.Push(inst)
		return
	}
	e.updator(inst, false)
}

// consumeForceUpdate drains the force-update list (spec.md §4.5 rule 5).
// It runs updator with force set, which skips the is-updated probe, and
// makes no gbar gating check of its own (the force-update consumer is
// frozen while a glance-bar is open, see OpenGbar); instances not yet
// shown are parked in hidden instead.
func (e *Engine) consumeForceUpdate(inst *Instance) {
	inst.mu.Lock()
	hasWidgetScript := inst.HasWidgetScript
	isWidgetShow := inst.isWidgetShow
	inst.mu.Unlock()

	if hasWidgetScript && !isWidgetShow {
		e.hidden.Push(inst)
		return
	}
	e.updator(inst, true)
}

// updator performs one update pass: arms the in-flight monitor timeout,
// invokes update_content, and schedules per the returned bitmask
// (spec.md §4.5 rules 7-8, §3 "Update result flags").
func (e *Engine) updator(inst *Instance, force bool) {
	if !force {
		updated, err := e.handler.SOIsUpdated(inst.pkg, inst.InstanceID)
		if err == nil && !updated {
			return
		}
	}

	if !e.beginUpdateMonitor(inst) {
		return
	}

	result, err := e.handler.SOUpdate(inst.pkg, inst.InstanceID, inst.Content)
	if err != nil {
		logger.Named("engine").Warnw("update_content failed", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
		return
	}

	if result&sohandler.ResultNeedToSchedule != 0 {
		e.pending.Push(inst)
	}
	if result&sohandler.ResultForceToSchedule != 0 {
		e.forceUpdate.Push(inst)
	}
	// OUTPUT_UPDATED is not accounted here: the widget writes
	// asynchronously after returning, and the Update Monitor's
	// file-updated callback (FileUpdated below) settles monitor_cnt.
}

// beginUpdateMonitor arms the in-flight timeout timer and applies the
// too-fast/heavy-updating accounting (spec.md §4.5 rule 8). Returns false
// if the update must be skipped: already in flight (monitor_cnt coalesces
// to 1) or too fast (the heavy-updating latch is set).
func (e *Engine) beginUpdateMonitor(inst *Instance) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.monitor != nil {
		// Already in flight: an extra request coalesces to count=1 rather
		// than incrementing (spec.md §4.5 rule 8 "an extra file-updated
		// event coalesces - the counter is set to 1, not incremented").
		inst.monitorCount = 1
		return false
	}

	now := time.Now()
	tooFast := !inst.lastUpdateAt.IsZero() && now.Sub(inst.lastUpdateAt) < e.cfg.MinUpdateInterval
	inst.lastUpdateAt = now

	if tooFast {
		inst.heavyUpdating = true
		return false
	}

	timeout := inst.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	inst.monitorCount = 1
	inst.monitor = time.AfterFunc(timeout, func() { e.onUpdateTimeout(inst) })
	return true
}

// onUpdateTimeout fires when a widget's update_content callback runs past
// its per-instance timeout (spec.md §4.5 rule 7, §5 "Suspension points").
// It emits faulted upstream and terminates the process: the slave's
// supervisor is expected to restart it and re-issue renew.
func (e *Engine) onUpdateTimeout(inst *Instance) {
	logger.Named("engine").Errorw("update timed out, exiting", "package_id", inst.PackageID, "instance_id", inst.InstanceID)

	if err := e.sink.SendFaulted(inst.Identity, "update,timeout"); err != nil {
		logger.Named("engine").Warnw("failed to send faulted", "error", err)
	}

	e.exit(exitCodeETIME)
}

// FileUpdated is the Update Monitor's callback for a CLOSE_WRITE/MOVED_TO
// event on this instance's image file (spec.md §4.4, §4.5 rule 7). It
// drains monitor_cnt, propagates extra-info, and fans the damage region
// out to direct viewers or the master.
func (e *Engine) FileUpdated(inst *Instance, region buffer.DamageRegion, forGbar bool) error {
	inst.mu.Lock()
	if inst.heavyUpdating {
		// Too-fast update's companion file-updated is eaten silently
		// (spec.md §4.5 rule 8).
		inst.heavyUpdating = false
		inst.mu.Unlock()
		return nil
	}

	if inst.monitor == nil {
		inst.mu.Unlock()
		return nil
	}

	inst.monitorCount--
	drained := inst.monitorCount <= 0
	if drained {
		inst.monitor.Stop()
		inst.monitor = nil
	}
	deleteme := inst.deleteme
	inst.mu.Unlock()

	if err := e.propagateExtraInfo(inst); err != nil {
		logger.Named("engine").Warnw("extra-info propagation failed", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
	}

	if err := e.fanOutUpdate(inst, region, forGbar); err != nil {
		logger.Named("engine").Warnw("fan-out failed", "package_id", inst.PackageID, "instance_id", inst.InstanceID, "error", err)
	}

	if drained && deleteme {
		return e.destroy(inst, ReasonDefault)
	}
	return nil
}

// propagateExtraInfo calls get_output_info and get_alt_info, replacing the
// instance's cached text fields (spec.md §4.5 "Extra-info propagation").
func (e *Engine) propagateExtraInfo(inst *Instance) error {
	info, err := e.handler.SOGetOutputInfo(inst.pkg, inst.InstanceID)
	if err != nil && !errors.Is(err, errors.ErrNotSupported) {
		return errors.Wrap(err, "get_output_info")
	}
	alt, err := e.handler.SOGetAltInfo(inst.pkg, inst.InstanceID)
	if err != nil && !errors.Is(err, errors.ErrNotSupported) {
		return errors.Wrap(err, "get_alt_info")
	}

	inst.SetExtraInfo(info.Content, info.Title, alt.Icon, alt.Name)

	if inst.widgetBuffer == nil {
		return e.sink.SendExtraInfo(inst.Identity, inst.Content, inst.Title, inst.Icon, inst.Name, info.Priority)
	}
	return nil
}

// fanOutUpdate sends the damage notification to every registered direct
// viewer, falling back to the master if the set is empty or every send
// fails (spec.md §4.5 rule 9).
func (e *Engine) fanOutUpdate(inst *Instance, region buffer.DamageRegion, forGbar bool) error {
	addrs := inst.DirectAddrs()
	anySucceeded := false

	for _, addr := range addrs {
		if err := e.sink.SendDirectUpdated(addr, inst.Identity, region, forGbar); err != nil {
			logger.Named("engine").Debugw("direct send failed", "addr", addr, "error", err)
			continue
		}
		anySucceeded = true
	}

	if len(addrs) == 0 || !anySucceeded {
		return e.sink.SendMasterUpdated(inst.Identity, region, forGbar)
	}
	return nil
}
