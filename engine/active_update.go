package engine

// ActiveUpdateSession records whether an active-update window (spec.md §6
// "widget_update_{begin,end}, gbar_update_{begin,end}") is open for an
// instance's widget or glance-bar. It holds only that open/closed flag:
// it emits no begin/end frames and does not change how `updated` frames
// are sent.
type ActiveUpdateSession struct {
	inst    *Instance
	forGbar bool
	active  bool
}

// BeginActiveUpdate opens a session for inst. Only meaningful when the
// instance's renew payload requested active_update framing.
func (e *Engine) BeginActiveUpdate(inst *Instance, forGbar bool) *ActiveUpdateSession {
	return &ActiveUpdateSession{inst: inst, forGbar: forGbar, active: true}
}

// End closes the session; calling End more than once is a no-op.
func (s *ActiveUpdateSession) End() {
	s.active = false
}

// Active reports whether the session is still open.
func (s *ActiveUpdateSession) Active() bool {
	return s.active
}
