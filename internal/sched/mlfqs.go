package sched

import "math"

// mlfqsSecondTicks is the number of timer ticks in one simulated second;
// load_avg and recent_cpu decay are recomputed on this boundary (§4.7,
// pintos thread.c's TIMER_FREQ).
const mlfqsSecondTicks = 100

// MLFQS implements the multi-level feedback queue scheduler: priorities
// are not set by SetPriority (a no-op in this mode) but recomputed from
// niceness and recent CPU usage, using the same formulas as the original:
//
//	priority      = PRI_MAX - (recent_cpu / 4) - (nice * 2)
//	recent_cpu    = (2*load_avg)/(2*load_avg + 1) * recent_cpu + nice
//	load_avg      = (59/60)*load_avg + (1/60)*ready_threads
//
// The spec declares fixed-point arithmetic itself out of scope; these are
// implemented directly in float64, which reproduces the same formulas
// without a bespoke fixed-point type.

// SetNice sets the calling thread's niceness and immediately recomputes
// its priority, yielding if it no longer deserves the CPU. Valid only in
// MLFQS mode; a no-op otherwise.
func (t *Thread_t) SetNice(nice int) {
	s := t.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeMLFQS {
		return
	}
	t.nice = clamp(nice, NiceMin, NiceMax)
	old := t.effPrio
	t.mlfqsRecomputeLocked()
	if t.effPrio < old {
		s.maybeYieldLocked(t)
	}
}

// Nice returns the thread's niceness.
func (t *Thread_t) Nice() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.nice
}

// RecentCPU returns the thread's recent_cpu value, scaled by 100 to match
// the integer view pintos' get_recent_cpu syscall exposes (whole number,
// two decimal digits of precision folded in).
func (t *Thread_t) RecentCPU() int {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return int(math.Round(t.recentCPU * 100))
}

// LoadAvg returns the system load average, scaled by 100 like RecentCPU.
func (s *Sched_t) LoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(math.Round(s.loadAvg * 100))
}

// mlfqsRecomputeLocked derives t's priority from its recent_cpu and nice,
// clamped to [PriMin, PriMax]. Callers hold s.mu.
func (t *Thread_t) mlfqsRecomputeLocked() {
	p := float64(PriMax) - t.recentCPU/4 - float64(t.nice)*2
	t.effPrio = clamp(int(math.Round(p)), PriMin, PriMax)
	t.basePrio = t.effPrio
}

// mlfqsRecomputeAllLocked recomputes every thread's priority (driven every
// 4 ticks) and re-sorts the ready queue to match. Callers hold s.mu.
func (s *Sched_t) mlfqsRecomputeAllLocked() {
	for _, t := range s.all {
		t.mlfqsRecomputeLocked()
	}
	s.resortReadyLocked()
	if s.running != nil && len(s.ready) > 0 && s.ready[0].effPrio > s.running.effPrio {
		s.yieldOwed = true
	}
}

// mlfqsUpdateLoadAvgLocked recomputes the system load average from the
// number of ready-or-running threads. Callers hold s.mu.
func (s *Sched_t) mlfqsUpdateLoadAvgLocked() {
	readyThreads := len(s.ready)
	if s.running != nil {
		readyThreads++
	}
	s.loadAvg = (59.0/60.0)*s.loadAvg + (1.0/60.0)*float64(readyThreads)
}

// mlfqsDecayAllLocked applies the recent_cpu decay formula to every
// thread, once per simulated second. Callers hold s.mu.
func (s *Sched_t) mlfqsDecayAllLocked() {
	coeff := (2 * s.loadAvg) / (2*s.loadAvg + 1)
	for _, t := range s.all {
		t.recentCPU = coeff*t.recentCPU + float64(t.nice)
	}
}
