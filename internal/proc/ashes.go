// Package proc implements process lifecycle: create (exec), wait, exit,
// the per-process open-file table, and the ashes post-mortem record a
// parent consults about a child (§4.9, §3's "Ashes" data model).
package proc

import (
	"sync"

	"minikernel/internal/defs"
	"minikernel/internal/sched"
)

// Ashes_t is the post-mortem record a parent owns for one child (§3):
// allocated when the child is created, freed when the parent exits or
// successfully waits on it. Two events are tracked independently because
// they happen at different times in the child's life: LoadSema fires
// once, as soon as the loader either succeeds or fails; ExitSema fires
// once, when the child calls Exit.
type Ashes_t struct {
	mu sync.Mutex

	ChildPid    defs.Pid_t
	LoadSuccess bool
	ExitStatus  int
	Waited      bool

	loadSema *sched.Semaphore_t
	exitSema *sched.Semaphore_t
}

// NewAshes allocates an ashes record for a not-yet-loaded child.
func NewAshes(s *sched.Sched_t, childPid defs.Pid_t) *Ashes_t {
	return &Ashes_t{
		ChildPid: childPid,
		loadSema: s.NewSemaphore(0),
		exitSema: s.NewSemaphore(0),
	}
}

// SignalLoaded records whether the loader succeeded and wakes whoever is
// waiting in WaitLoaded (exec's caller).
func (a *Ashes_t) SignalLoaded(t *sched.Thread_t, success bool) {
	a.mu.Lock()
	a.LoadSuccess = success
	a.mu.Unlock()
	a.loadSema.Up()
}

// WaitLoaded blocks until SignalLoaded has been called, then reports
// whether the load succeeded.
func (a *Ashes_t) WaitLoaded(t *sched.Thread_t) bool {
	a.loadSema.Down(t)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.LoadSuccess
}

// SignalExited records the exit status and wakes a waiting parent.
func (a *Ashes_t) SignalExited(status int) {
	a.mu.Lock()
	a.ExitStatus = status
	a.mu.Unlock()
	a.exitSema.Up()
}

// MarkWaited atomically checks and sets the has-been-waited flag,
// reporting whether it was already set (wait() on an already-waited
// child must fail, §4.9).
func (a *Ashes_t) MarkWaited() (alreadyWaited bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alreadyWaited = a.Waited
	a.Waited = true
	return alreadyWaited
}

// WaitExited blocks until SignalExited has been called, then returns the
// recorded exit status.
func (a *Ashes_t) WaitExited(t *sched.Thread_t) int {
	a.exitSema.Down(t)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ExitStatus
}
