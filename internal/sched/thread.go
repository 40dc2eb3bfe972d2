// Package sched implements the kernel's thread scheduler: a priority-ordered
// ready queue (or, in MLFQS mode, a queue whose priorities the scheduler
// itself recomputes), priority donation through locks, and the counting
// semaphores and locks everything above is built on. Thread_t and Lock_t
// live in the same package because donation must walk from a blocked
// thread through the lock it is waiting on to that lock's holder and back
// again; splitting the two types across packages (as a strict translation
// of threads/thread.c + threads/synch.c would) would just reintroduce that
// coupling as an import cycle.
package sched

import (
	"sync"

	"minikernel/internal/accnt"
	"minikernel/internal/defs"
	"minikernel/internal/klog"
)

var log = klog.Subsys("sched")

// Status is a thread's position in the NEW -> READY -> RUNNING ->
// {READY, BLOCKED, DYING} state machine. BLOCKED -> READY on wakeup; DYING
// is terminal.
type Status int

const (
	Ready Status = iota
	Running
	Blocked
	Dying
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Dying:
		return "DYING"
	default:
		return "?"
	}
}

const (
	PriMin = 0
	PriMax = 63

	NiceMin = -20
	NiceMax = 20

	// TimeSlice is the number of ticks a thread runs before the timer
	// interrupt requests a yield.
	TimeSlice = 4

	// donateMaxDepth bounds the lock-chain walk priority donation
	// performs; pathological lock chains stop donating rather than
	// recursing (or looping) forever.
	donateMaxDepth = 8
)

// Thread_t is a kernel thread. Everything below seq is touched only while
// the scheduler's lock is held (or, equivalently in the original C, with
// interrupts disabled).
type Thread_t struct {
	Tid  defs.Tid_t
	Name string

	status Status

	basePrio int
	effPrio  int

	// MLFQS-only fields.
	nice      int
	recentCPU float64

	held      []*Lock_t // locks currently held, for priority recomputation on release
	blockedOn *Lock_t   // the lock this thread is waiting to acquire, if any

	Accnt accnt.Accnt_t

	seq uint64 // insertion order, used as a FIFO tiebreak within a priority

	cond *sync.Cond // gates the thread's goroutine: runs only while status==Running

	sched *Sched_t
}

// Tid_ returns the thread's id.
func (t *Thread_t) Tid_() defs.Tid_t { return t.Tid }

// BasePriority returns the thread's base (undonated) priority.
func (t *Thread_t) BasePriority() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.basePrio
}

// EffPriority returns the thread's current effective priority (its base
// priority or the highest priority donated to it, whichever is larger).
func (t *Thread_t) EffPriority() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.effPrio
}

// Status reports the thread's current scheduler state.
func (t *Thread_t) Status() Status {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.status
}

// SetPriority changes a thread's base priority. In priority mode this also
// recomputes its effective priority (donation may still keep it higher) and
// may cause it to yield if it no longer deserves the CPU. A no-op call in
// MLFQS mode (priorities there are system-computed, §4.7) still records the
// requested base so mode switches at boot are consistent, but has no
// scheduling effect.
func (t *Thread_t) SetPriority(prio int) {
	s := t.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	t.basePrio = clamp(prio, PriMin, PriMax)
	if s.mode == ModeMLFQS {
		return
	}
	old := t.effPrio
	t.recomputeEffLocked()
	if t.effPrio < old {
		s.maybeYieldLocked(t)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// recomputeEffLocked sets effPrio to the max of basePrio and the highest
// priority donated through any lock this thread currently holds. Donation
// never applies under MLFQS (§4.7), so outside ModePriority effPrio just
// tracks basePrio. Called with s.mu held.
func (t *Thread_t) recomputeEffLocked() {
	best := t.basePrio
	if t.sched.mode == ModePriority {
		for _, l := range t.held {
			if p, ok := l.highestWaiterLocked(); ok && p > best {
				best = p
			}
		}
	}
	t.effPrio = best
}
