package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// awaitStatus spins briefly waiting for t to reach status want; used
// because thread bodies run on real goroutines and we have no virtual
// clock to step deterministically.
func awaitStatus(t *testing.T, th *Thread_t, want Status) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if th.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("thread %s never reached status %s, stuck at %s", th.Name, want, th.Status())
}

func TestReadyQueueHeadIsHighestPriority(t *testing.T) {
	s := New(ModePriority)
	gate := s.NewSemaphore(0)

	// holder is spawned first, so it runs at once and keeps the CPU until
	// release is closed; the three threads spawned after it wait in the
	// ready queue, where the head must be the highest-priority one. Once
	// released they each run and block on gate.
	release := make(chan struct{})
	s.Spawn("holder", 0, func(th *Thread_t) { <-release })
	lo := s.Spawn("lo", 10, func(th *Thread_t) { gate.Down(th) })
	hi := s.Spawn("hi", 50, func(th *Thread_t) { gate.Down(th) })
	mid := s.Spawn("mid", 30, func(th *Thread_t) { gate.Down(th) })

	assert.Same(t, hi, s.ReadyHead(), "ready queue head must be the highest-priority thread")
	close(release)

	awaitStatus(t, lo, Blocked)
	awaitStatus(t, hi, Blocked)
	awaitStatus(t, mid, Blocked)

	gate.Up()
	gate.Up()
	gate.Up()

	awaitStatus(t, lo, Dying)
	awaitStatus(t, hi, Dying)
	awaitStatus(t, mid, Dying)
}

func TestPriorityDonationChain(t *testing.T) {
	// Three threads, three priorities, one lock each waits on the next:
	// low holds lockA, medium blocks acquiring lockA (donating to low),
	// high blocks acquiring lockB held by medium (donating further).
	// low's effective priority should rise to high's.
	s := New(ModePriority)
	lockA := s.NewLock()
	lockB := s.NewLock()

	lowReady := make(chan struct{})
	lowRelease := make(chan struct{})
	var low *Thread_t
	low = s.Spawn("low", 10, func(th *Thread_t) {
		lockA.Acquire(th)
		close(lowReady)
		// keep yielding so the threads spawned below get dispatched; a
		// running thread that just waits on a channel keeps the CPU
		for {
			select {
			case <-lowRelease:
				lockA.Release(th)
				return
			default:
				s.Yield(th)
				time.Sleep(time.Millisecond)
			}
		}
	})

	<-lowReady
	require.Equal(t, 10, low.EffPriority())

	medDone := make(chan struct{})
	med := s.Spawn("med", 30, func(th *Thread_t) {
		lockB.Acquire(th)
		lockA.Acquire(th)
		lockA.Release(th)
		lockB.Release(th)
		close(medDone)
	})

	awaitStatus(t, med, Blocked)
	assert.Equal(t, 30, low.EffPriority(), "low should be donated med's priority")

	hiDone := make(chan struct{})
	_ = s.Spawn("hi", 50, func(th *Thread_t) {
		lockB.Acquire(th)
		lockB.Release(th)
		close(hiDone)
	})

	// give the hi thread a moment to block and donate
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && low.EffPriority() != 50 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 50, low.EffPriority(), "donation should chain through med up to hi's priority")

	close(lowRelease)
	<-medDone
	<-hiDone

	assert.Equal(t, 10, low.EffPriority(), "priority should drop back to base once locks are released")
}

func TestMLFQSPriorityDecreasesWithRecentCPU(t *testing.T) {
	s := New(ModeMLFQS)
	done := make(chan struct{})
	th := s.Spawn("busy", 0, func(t *Thread_t) { <-done })
	before := th.EffPriority()
	for i := 0; i < 8; i++ {
		s.Tick()
	}
	after := th.EffPriority()
	assert.LessOrEqual(t, after, before, "priority should not increase purely from accumulating recent_cpu")
	close(done)
}

func TestLockAcquireDoesNotDonateUnderMLFQS(t *testing.T) {
	// Same low/medium shape as TestPriorityDonationChain, but under MLFQS:
	// low's effective priority must not rise just because med blocks on
	// low's lock (§4.7: donation is a ModePriority-only mechanism).
	s := New(ModeMLFQS)
	lockA := s.NewLock()

	lowReady := make(chan struct{})
	lowRelease := make(chan struct{})
	var low *Thread_t
	low = s.Spawn("low", 10, func(th *Thread_t) {
		// under MLFQS the spawn priority is ignored; a high nice puts low
		// well below med, so a donation would be visible
		th.SetNice(20)
		lockA.Acquire(th)
		close(lowReady)
		// keep yielding so med gets dispatched; a running thread that
		// just waits on a channel keeps the CPU
		for {
			select {
			case <-lowRelease:
				lockA.Release(th)
				return
			default:
				s.Yield(th)
				time.Sleep(time.Millisecond)
			}
		}
	})

	<-lowReady
	before := low.EffPriority()

	medDone := make(chan struct{})
	med := s.Spawn("med", 30, func(th *Thread_t) {
		lockA.Acquire(th)
		lockA.Release(th)
		close(medDone)
	})

	awaitStatus(t, med, Blocked)
	assert.Equal(t, before, low.EffPriority(), "low's priority must not rise from a blocked waiter under MLFQS")

	close(lowRelease)
	<-medDone
}

func TestSetNiceIsNoopOutsideMLFQS(t *testing.T) {
	s := New(ModePriority)
	done := make(chan struct{})
	th := s.Spawn("t", 20, func(t *Thread_t) { <-done })
	th.SetNice(10)
	assert.Equal(t, 0, th.Nice())
	close(done)
}
