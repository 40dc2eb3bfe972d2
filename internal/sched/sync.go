package sched

// Semaphore_t is a classic counting semaphore: Down blocks while the count
// is zero, Up increments it and wakes the highest-priority waiter. Locks,
// condition variables, and the ready-queue gate itself are all built from
// this primitive in the teacher's synch.c and here.
type Semaphore_t struct {
	sched   *Sched_t
	value   int
	waiters []*Thread_t // ordered by insertion; picked by priority on Up
}

// NewSemaphore creates a semaphore with the given initial count.
func (s *Sched_t) NewSemaphore(value int) *Semaphore_t {
	return &Semaphore_t{sched: s, value: value}
}

// Down decrements the semaphore, blocking the calling thread if it is
// already zero.
func (sem *Semaphore_t) Down(t *Thread_t) {
	s := sem.sched
	s.mu.Lock()
	for sem.value == 0 {
		sem.waiters = append(sem.waiters, t)
		t.status = Blocked
		s.dispatchLocked()
		for t.status != Running {
			t.cond.Wait()
		}
	}
	sem.value--
	s.mu.Unlock()
}

// Up increments the semaphore. If threads are waiting, the
// highest-effective-priority one is woken (ties broken FIFO), mirroring
// sema_up's "find max priority thread in waiters list" in the original.
func (sem *Semaphore_t) Up() {
	s := sem.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	sem.value++
	if len(sem.waiters) == 0 {
		return
	}
	best := 0
	for i, w := range sem.waiters[1:] {
		if w.effPrio > sem.waiters[best].effPrio {
			best = i + 1
		}
	}
	w := sem.waiters[best]
	sem.waiters = append(sem.waiters[:best], sem.waiters[best+1:]...)
	w.status = Ready
	s.insertReadyLocked(w)
	s.maybeYieldLocked(w)
	if s.running == nil {
		s.dispatchLocked()
	}
}

// Lock_t is a mutually-exclusive lock with priority donation: a thread
// blocked trying to acquire a held lock donates its effective priority to
// the holder (and transitively, through donateMaxDepth hops, to whatever
// the holder is itself blocked on), so a low-priority holder can't be
// starved behind a medium-priority thread while a high-priority thread
// waits (the "priority inversion" scenario in §8).
type Lock_t struct {
	sched  *Sched_t
	holder *Thread_t
	sem    *Semaphore_t // binary semaphore backing mutual exclusion
}

// NewLock creates an unheld lock.
func (s *Sched_t) NewLock() *Lock_t {
	return &Lock_t{sched: s, sem: s.NewSemaphore(1)}
}

// HeldBy reports the lock's current holder, or nil if unheld.
func (l *Lock_t) HeldBy() *Thread_t {
	l.sched.mu.Lock()
	defer l.sched.mu.Unlock()
	return l.holder
}

// Acquire blocks until the lock is free, then takes it. If the lock is
// currently held, t donates its effective priority to the holder (and
// onward along the chain of locks the holder is itself waiting on) before
// blocking, per the donation algorithm in §4.8. Donation only applies in
// ModePriority: MLFQS computes priorities itself from nice/recentCPU, and
// spec.md §4.7 states donation does not apply under MLFQS.
func (l *Lock_t) Acquire(t *Thread_t) {
	s := l.sched
	s.mu.Lock()
	if l.holder != nil && l.holder != t {
		t.blockedOn = l
		if s.mode == ModePriority {
			l.donateLocked(t, 0)
		}
	}
	s.mu.Unlock()

	l.sem.Down(t)

	s.mu.Lock()
	l.holder = t
	t.blockedOn = nil
	t.held = append(t.held, l)
	s.mu.Unlock()
}

// donateLocked walks from waiter through the lock it wants, to that lock's
// holder, raising the holder's effective priority to at least waiter's if
// needed, and recurses into whatever the holder is itself blocked on. depth
// bounds the walk (donateMaxDepth); nested donation is rare in practice but
// pathological lock chains must not recurse forever. Callers hold s.mu.
func (l *Lock_t) donateLocked(waiter *Thread_t, depth int) {
	if depth >= donateMaxDepth || l.holder == nil {
		return
	}
	h := l.holder
	if waiter.effPrio > h.effPrio {
		h.effPrio = waiter.effPrio
		if h.status == Ready {
			l.sched.resortReadyLocked()
		}
		if h.blockedOn != nil {
			h.blockedOn.donateLocked(h, depth+1)
		}
	}
}

// Release gives up the lock. The previous holder's effective priority
// drops back to the max of its base priority and any donations still owed
// from its other held locks (recomputeEffLocked), and the highest-priority
// waiter (if any) is woken via the backing semaphore.
func (l *Lock_t) Release(t *Thread_t) {
	s := l.sched
	s.mu.Lock()
	for i, h := range t.held {
		if h == l {
			t.held = append(t.held[:i], t.held[i+1:]...)
			break
		}
	}
	l.holder = nil
	t.recomputeEffLocked()
	s.mu.Unlock()

	l.sem.Up()
}

// highestWaiterLocked returns the highest effective priority among threads
// blocked trying to acquire l, for Thread_t.recomputeEffLocked. Callers
// hold s.mu.
func (l *Lock_t) highestWaiterLocked() (int, bool) {
	best := -1
	found := false
	for _, w := range l.sem.waiters {
		if !found || w.effPrio > best {
			best = w.effPrio
			found = true
		}
	}
	return best, found
}

// Cond_t is a condition variable associated with a lock, matching synch.c's
// cond_wait/cond_signal: the caller must hold lk when calling Wait or
// Signal.
type Cond_t struct {
	sched   *Sched_t
	waiters []*Semaphore_t
}

// NewCond creates a condition variable bound to no lock in particular; lk
// is passed explicitly to Wait to mirror the teacher's cond_wait(cond,
// lock) signature.
func (s *Sched_t) NewCond() *Cond_t {
	return &Cond_t{sched: s}
}

// Wait releases lk, blocks until Signal or Broadcast wakes this caller,
// then reacquires lk before returning.
func (c *Cond_t) Wait(t *Thread_t, lk *Lock_t) {
	waitSem := c.sched.NewSemaphore(0)
	c.waiters = append(c.waiters, waitSem)
	lk.Release(t)
	waitSem.Down(t)
	lk.Acquire(t)
}

// Signal wakes one waiter, if any, oldest first.
func (c *Cond_t) Signal() {
	if len(c.waiters) == 0 {
		return
	}
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	w.Up()
}

// Broadcast wakes all current waiters.
func (c *Cond_t) Broadcast() {
	for len(c.waiters) > 0 {
		c.Signal()
	}
}
