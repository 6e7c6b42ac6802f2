package engine

// GbarState is the process-wide glance-bar gating state computed by
// scanning the open-gbar set against a candidate instance's package
// (spec.md §4.5 rule 6).
type GbarState int

const (
	GbarNotOpened GbarState = iota
	GbarOpened
	GbarOpenedButNotMine
)

// OpenGbar marks inst's glance-bar as open. On the first open across the
// whole process, the pending and force-update consumers are frozen
// (spec.md §4.5 rule 6 "On first gbar open, both... are frozen").
func (e *Engine) OpenGbar(inst *Instance) {
	e.gbarMu.Lock()
	wasEmpty := len(e.gbarList) == 0
	e.gbarList[inst.Identity] = true
	e.gbarMu.Unlock()

	inst.mu.Lock()
	inst.isGbarShow = true
	inst.mu.Unlock()

	if wasEmpty {
		e.pending.Freeze()
		e.forceUpdate.Freeze()
	}
}

// CloseGbar marks inst's glance-bar as closed. On the last close, the
// consumers thaw and gbar-open-pending drains into pending (spec.md §4.5
// rule 6 "on last close they are thawed and gbar-open-pending is drained
// into pending").
func (e *Engine) CloseGbar(inst *Instance) {
	e.gbarMu.Lock()
	delete(e.gbarList, inst.Identity)
	nowEmpty := len(e.gbarList) == 0
	e.gbarMu.Unlock()

	inst.mu.Lock()
	inst.isGbarShow = false
	inst.mu.Unlock()

	if nowEmpty {
		e.pending.Thaw()
		e.forceUpdate.Thaw()
		e.gbarPending.DrainAllInto(e.pending)
	}
}

// gbarStateFor computes which of GbarNotOpened/GbarOpened/
// GbarOpenedButNotMine applies to inst's package (spec.md §4.5 rule 6).
func (e *Engine) gbarStateFor(inst *Instance) GbarState {
	e.gbarMu.Lock()
	defer e.gbarMu.Unlock()

	if len(e.gbarList) == 0 {
		return GbarNotOpened
	}
	for openID := range e.gbarList {
		if openID.PackageID == inst.PackageID {
			return GbarOpened
		}
	}
	return GbarOpenedButNotMine
}
