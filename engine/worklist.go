package engine

import (
	"sync"
	"time"

	"github.com/nicesj/widget-provider/logger"
)

// WorkList is a single-shot-timer-driven FIFO queue of instances awaiting
// an update pass. At most one of the engine's four lists may hold a given
// instance at a time (spec.md §4.5 rules 4-6); membership is enforced by
// the owning Engine, not by WorkList itself, since the invariant spans all
// four lists.
type WorkList struct {
	name string

	mu    sync.Mutex
	items []*Instance

	timer    *time.Timer
	interval time.Duration
	drain    func(*Instance)
}

// NewWorkList constructs an empty list. drain is invoked (on the owning
// loop) for each head item popped while the re-armed timer fires. A list
// built with a nil drain never arms its timer: its items stay queued until
// Remove or DrainAllInto takes them.
func NewWorkList(name string, interval time.Duration, drain func(*Instance)) *WorkList {
	return &WorkList{name: name, interval: interval, drain: drain}
}

// Push appends inst to the tail and arms the consumer timer if it isn't
// already running (spec.md §4.5 rule 4: "drained by a single-shot timer
// re-armed as long as the list is non-empty").
func (l *WorkList) Push(inst *Instance) {
	l.mu.Lock()
	l.items = append(l.items, inst)
	needsArm := l.timer == nil
	l.mu.Unlock()

	if needsArm {
		l.arm()
	}
}

// Remove deletes inst from the list if present, e.g. when it is destroyed
// while parked.
func (l *WorkList) Remove(inst *Instance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it == inst {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return
		}
	}
}

// Contains reports whether inst is currently queued.
func (l *WorkList) Contains(inst *Instance) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it == inst {
			return true
		}
	}
	return false
}

// Len returns the current queue length.
func (l *WorkList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Freeze tears down the consumer timer without discarding queued items
// (spec.md §4.5 rule 2 "pending-consumer timer is frozen", rule 6 "both
// are frozen" on first gbar open).
func (l *WorkList) Freeze() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// Thaw re-arms the consumer timer if items remain queued.
func (l *WorkList) Thaw() {
	l.mu.Lock()
	nonEmpty := len(l.items) > 0
	l.mu.Unlock()
	if nonEmpty {
		l.arm()
	}
}

// DrainAllInto pops every queued item and pushes it onto dst, used when
// gbar-open-pending drains into pending on last glance-bar close
// (spec.md §4.5 rule 6).
func (l *WorkList) DrainAllInto(dst *WorkList) {
	l.mu.Lock()
	items := l.items
	l.items = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	for _, it := range items {
		dst.Push(it)
	}
}

func (l *WorkList) arm() {
	l.mu.Lock()
	if l.timer != nil || l.drain == nil {
		l.mu.Unlock()
		return
	}
	l.timer = time.AfterFunc(l.interval, l.tick)
	l.mu.Unlock()
}

func (l *WorkList) tick() {
	l.mu.Lock()
	if len(l.items) == 0 {
		l.timer = nil
		l.mu.Unlock()
		return
	}
	head := l.items[0]
	l.items = l.items[1:]
	remaining := len(l.items)
	l.mu.Unlock()

	if l.drain != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Named("engine").Errorw("work-list consumer panicked", "list", l.name, "recover", r)
				}
			}()
			l.drain(head)
		}()
	}

	l.mu.Lock()
	if remaining > 0 {
		l.timer = time.AfterFunc(l.interval, l.tick)
	} else {
		l.timer = nil
	}
	l.mu.Unlock()
}
