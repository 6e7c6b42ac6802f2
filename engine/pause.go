package engine

// SetGlobalPause toggles the process-wide pause state (spec.md §4.5 rule
// 2). On transition to paused, the pending consumer and every Resumed
// instance's periodic timer are frozen (the timers only unless
// UpdateOnPauseOverride is set); thaw is the symmetric inverse,
// additionally re-queuing any instance updated while paused. No system
// event is sent to the widgets on either transition.
func (e *Engine) SetGlobalPause(paused bool) {
	e.mu.Lock()
	if e.globalPaused == paused {
		e.mu.Unlock()
		return
	}
	e.globalPaused = paused
	instances := make([]*Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		instances = append(instances, inst)
	}
	e.mu.Unlock()

	if paused {
		e.pending.Freeze()
	} else {
		e.pending.Thaw()
	}

	for _, inst := range instances {
		if e.cfg.UpdateOnPauseOverride {
			continue
		}
		inst.mu.Lock()
		isResumed := inst.state == StateResumed
		inst.mu.Unlock()
		if !isResumed {
			continue
		}

		if paused {
			e.freezeInstanceTimer(inst)
		} else {
			e.thawInstanceTimer(inst)
		}
	}
}

// IsGlobalPaused reports the process-wide pause state.
func (e *Engine) IsGlobalPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalPaused
}

// SetInstancePause overrides the global pause state for one instance
// (spec.md §4.5 rule 3 "Per-instance pause/resume from master overrides
// #2 per instance").
func (e *Engine) SetInstancePause(inst *Instance, paused bool) {
	inst.mu.Lock()
	if paused {
		inst.state = StatePaused
	} else {
		inst.state = StateResumed
	}
	inst.mu.Unlock()

	if paused {
		e.freezeInstanceTimer(inst)
	} else {
		e.thawInstanceTimer(inst)
	}
}

func (e *Engine) freezeInstanceTimer(inst *Instance) {
	inst.mu.Lock()
	if inst.periodicTimer != nil {
		inst.periodicTimer.Stop()
	}
	inst.mu.Unlock()
}

func (e *Engine) thawInstanceTimer(inst *Instance) {
	inst.mu.Lock()
	period := inst.Period
	updatedInPause := inst.updatedInPause
	inst.updatedInPause = 0
	inst.mu.Unlock()

	if period > 0 && !e.cfg.Secured {
		e.armPeriodicTimer(inst, period)
	}

	if updatedInPause > 0 {
		e.pending.Push(inst)
	}
}
