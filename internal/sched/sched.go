package sched

import (
	"sort"
	"sync"

	"minikernel/internal/defs"
)

// Mode selects between the two scheduling disciplines described in §4.7.
type Mode int

const (
	// ModePriority is strict priority scheduling with donation.
	ModePriority Mode = iota
	// ModeMLFQS recomputes priorities periodically from niceness and
	// recent CPU usage; donation is disabled in this mode.
	ModeMLFQS
)

// Sched_t is the process-wide scheduler context: the ready queue, the
// all-threads table, and the bookkeeping MLFQS needs. One Sched_t is
// created at boot and lives for the process's lifetime (Design Notes:
// "global mutable state... a process-wide kernel context").
type Sched_t struct {
	mu sync.Mutex

	mode Mode

	ready   []*Thread_t
	all     map[defs.Tid_t]*Thread_t
	running *Thread_t

	nextTid uint64
	nextSeq uint64

	ticks      uint64
	loadAvg    float64
	yieldOwed  bool // timer requested a yield on return from interrupt
}

// New creates a scheduler in the given mode with no threads.
func New(mode Mode) *Sched_t {
	return &Sched_t{
		mode: mode,
		all:  make(map[defs.Tid_t]*Thread_t),
	}
}

// Mode reports the scheduling discipline this scheduler was built with.
func (s *Sched_t) Mode() Mode { return s.mode }

// Spawn creates a new thread running body and returns it already enqueued
// as READY. The first thread spawned becomes RUNNING immediately since the
// ready queue was empty. body is run on its own goroutine, gated so that
// only one thread's body executes at a time (single-CPU semantics); Spawn
// calls s.Exit(t) once body returns, and a body that calls s.Exit(t)
// itself is fine too, since Exit is a no-op on a thread already DYING.
// Under ModeMLFQS prio is ignored and the priority is computed from the
// thread's nice and recent_cpu.
func (s *Sched_t) Spawn(name string, prio int, body func(t *Thread_t)) *Thread_t {
	s.mu.Lock()
	s.nextTid++
	s.nextSeq++
	t := &Thread_t{
		Tid:      defs.Tid_t(s.nextTid),
		Name:     name,
		status:   Ready,
		basePrio: clamp(prio, PriMin, PriMax),
		effPrio:  clamp(prio, PriMin, PriMax),
		seq:      s.nextSeq,
		sched:    s,
	}
	t.cond = sync.NewCond(&s.mu)
	if s.mode == ModeMLFQS {
		t.mlfqsRecomputeLocked()
	}
	s.all[t.Tid] = t
	s.insertReadyLocked(t)
	first := s.running == nil
	if first {
		t.status = Running
		s.removeReadyLocked(t)
		s.running = t
	}
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		for t.status != Running {
			t.cond.Wait()
		}
		s.mu.Unlock()
		body(t)
		s.Exit(t)
	}()
	return t
}

// The scheduler has no thread-local "current thread" lookup (see
// DESIGN.md): kernel code passes its own *Thread_t explicitly, as the t
// parameter of Yield, Block, Exit and the lock/semaphore operations.

// insertReadyLocked inserts t into the ready queue in priority order
// (descending effective priority, FIFO among equal priorities). Callers
// hold s.mu.
func (s *Sched_t) insertReadyLocked(t *Thread_t) {
	s.nextSeq++
	t.seq = s.nextSeq
	i := sort.Search(len(s.ready), func(i int) bool {
		r := s.ready[i]
		if r.effPrio != t.effPrio {
			return r.effPrio < t.effPrio
		}
		return r.seq > t.seq
	})
	s.ready = append(s.ready, nil)
	copy(s.ready[i+1:], s.ready[i:])
	s.ready[i] = t
}

func (s *Sched_t) removeReadyLocked(t *Thread_t) {
	for i, r := range s.ready {
		if r == t {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

// resortReadyLocked re-orders the ready queue after priorities changed in
// bulk (MLFQS's per-4-tick recompute). FIFO order among threads that remain
// at the same priority is preserved via seq.
func (s *Sched_t) resortReadyLocked() {
	sort.SliceStable(s.ready, func(i, j int) bool {
		a, b := s.ready[i], s.ready[j]
		if a.effPrio != b.effPrio {
			return a.effPrio > b.effPrio
		}
		return a.seq < b.seq
	})
}

// Yield voluntarily gives up the CPU: the calling thread re-enters the
// ready queue at its current priority and the scheduler dispatches the new
// head. Must be called by t's own goroutine.
func (s *Sched_t) Yield(t *Thread_t) {
	s.mu.Lock()
	if t.status != Running {
		s.mu.Unlock()
		return
	}
	t.status = Ready
	s.insertReadyLocked(t)
	s.dispatchLocked()
	for t.status != Running {
		t.cond.Wait()
	}
	s.mu.Unlock()
}

// Block marks the calling thread BLOCKED on lk (nil if blocking on a bare
// semaphore/sleep) and dispatches the next ready thread. Returns once some
// other thread has called Unblock on it.
func (s *Sched_t) Block(t *Thread_t, lk *Lock_t) {
	s.mu.Lock()
	t.status = Blocked
	t.blockedOn = lk
	s.dispatchLocked()
	for t.status != Running {
		t.cond.Wait()
	}
	s.mu.Unlock()
}

// Unblock moves a blocked thread back to READY, inserted in priority
// order. If it now outranks the running thread, a yield is requested.
func (s *Sched_t) Unblock(t *Thread_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.status != Blocked {
		return
	}
	t.status = Ready
	t.blockedOn = nil
	s.insertReadyLocked(t)
	s.maybeYieldLocked(t)
	if s.running == nil {
		s.dispatchLocked()
	}
}

// maybeYieldLocked requests (but does not force) a yield from the running
// thread if candidate now has strictly higher effective priority.
func (s *Sched_t) maybeYieldLocked(candidate *Thread_t) {
	if s.running != nil && candidate.effPrio > s.running.effPrio {
		s.yieldOwed = true
	}
}

// dispatchLocked picks the highest-priority ready thread and makes it
// RUNNING, waking its goroutine. Callers hold s.mu.
func (s *Sched_t) dispatchLocked() {
	prev := s.running
	if prev != nil {
		prev.cond.Signal()
	}
	s.running = nil
	if len(s.ready) == 0 {
		return
	}
	next := s.ready[0]
	s.ready = s.ready[1:]
	next.status = Running
	s.running = next
	s.yieldOwed = false
	next.cond.Broadcast()
}

// Exit tears the thread down: marks it DYING, removes it from scheduling,
// and dispatches the next thread. The DYING status is terminal; resources
// (stack, in our simulation: nothing) are reclaimed by this call since
// there is no separate "next scheduler pass" in a goroutine-backed
// simulation. Calling Exit on a thread that is already DYING does nothing.
func (s *Sched_t) Exit(t *Thread_t) {
	s.mu.Lock()
	if t.status == Dying {
		s.mu.Unlock()
		return
	}
	t.status = Dying
	delete(s.all, t.Tid)
	s.dispatchLocked()
	s.mu.Unlock()
}

// Tick drives one timer interrupt's worth of scheduler accounting: recent
// CPU accumulation, MLFQS priority recomputation, and time-slice
// preemption. It must be called by a dedicated timer goroutine, never by a
// thread body. Returns true if the running thread's time slice expired and
// it should yield.
// tickNs is the simulated wall-clock duration of one timer tick
// (mlfqsSecondTicks ticks per simulated second), the unit accnt.Accnt_t
// accounting is credited in.
const tickNs = int(1e9) / mlfqsSecondTicks

func (s *Sched_t) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++

	if s.running != nil {
		s.running.Accnt.Utadd(tickNs)
	}
	if s.running != nil && s.mode == ModeMLFQS {
		s.running.recentCPU += 1.0
	}
	if s.mode == ModeMLFQS {
		if s.ticks%4 == 0 {
			s.mlfqsRecomputeAllLocked()
		}
		if s.ticks%mlfqsSecondTicks == 0 {
			s.mlfqsUpdateLoadAvgLocked()
			s.mlfqsDecayAllLocked()
		}
	}

	owed := s.yieldOwed
	s.yieldOwed = false
	if s.ticks%TimeSlice == 0 {
		owed = true
	}
	return owed
}

// Threads returns a snapshot of all live threads, for diagnostics/tests.
func (s *Sched_t) Threads() []*Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Thread_t, 0, len(s.all))
	for _, t := range s.all {
		out = append(out, t)
	}
	return out
}

// ReadyHead returns the thread at the head of the ready queue, if any, for
// testing the ordering invariant in §8.
func (s *Sched_t) ReadyHead() *Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	return s.ready[0]
}

// Running returns the currently running thread, if any.
func (s *Sched_t) Running() *Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
