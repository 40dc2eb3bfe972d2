package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minikernel/internal/mem"
	"minikernel/internal/sched"
	"minikernel/internal/swap"
	"minikernel/internal/vm"
)

const testPGSIZE = mem.PGSIZE

func newTestRig(t *testing.T) (*sched.Sched_t, *vm.System_t) {
	dev := swap.NewMemDisk(8)
	sw := swap.New(dev, 8)
	phys := mem.Phys_init(64)
	sys := vm.NewSystem(64, sw, phys)
	return sched.New(sched.ModePriority), sys
}

// runAsMain spawns fn as the scheduler's bootstrap thread and blocks the
// test goroutine until fn returns, giving fn a *sched.Thread_t it can use
// to call blocking proc operations (Execute, Wait) the way a real
// process's main thread would.
func runAsMain(sc *sched.Sched_t, fn func(t *sched.Thread_t)) {
	done := make(chan struct{})
	sc.Spawn("bootstrap", sched.PriMax, func(t *sched.Thread_t) {
		fn(t)
		sc.Exit(t)
		close(done)
	})
	<-done
}

func TestExecuteLoadsAndExitReportsStatusToWait(t *testing.T) {
	sc, sys := newTestRig(t)
	tb := NewTable()

	stackTop := uintptr(4 * testPGSIZE)
	exe := &vm.Executable_t{Entry: 0}

	runAsMain(sc, func(mt *sched.Thread_t) {
		parent := newProc("bootstrap", sc, sys)
		parent.mainT = mt

		childPid, err := Execute(parent, tb, "childproc", exe, []string{"childproc"}, stackTop)
		require.Zero(t, err)
		require.NotZero(t, childPid)

		child, ok := tb.Get(childPid)
		require.True(t, ok)
		require.True(t, child.Vm.Region.Sorted())

		go child.Exit(7)

		status, werr := Wait(parent, childPid)
		require.Zero(t, werr)
		require.Equal(t, 7, status)

		_, stillThere := tb.Get(childPid)
		require.False(t, stillThere)
	})
}

func TestWaitOnUnknownChildFails(t *testing.T) {
	sc, sys := newTestRig(t)

	runAsMain(sc, func(mt *sched.Thread_t) {
		parent := newProc("bootstrap", sc, sys)
		parent.mainT = mt

		_, err := Wait(parent, 99)
		require.NotZero(t, err)
	})
}

func TestWaitTwiceOnSameChildFailsSecondTime(t *testing.T) {
	sc, sys := newTestRig(t)
	tb := NewTable()

	stackTop := uintptr(4 * testPGSIZE)
	exe := &vm.Executable_t{Entry: 0}

	runAsMain(sc, func(mt *sched.Thread_t) {
		parent := newProc("bootstrap", sc, sys)
		parent.mainT = mt

		childPid, err := Execute(parent, tb, "childproc", exe, []string{"childproc"}, stackTop)
		require.Zero(t, err)

		child, _ := tb.Get(childPid)
		go child.Exit(0)

		_, werr := Wait(parent, childPid)
		require.Zero(t, werr)

		_, werr2 := Wait(parent, childPid)
		require.NotZero(t, werr2)
	})

	time.Sleep(time.Millisecond) // let the exit goroutine settle before the rig is dropped
}

func TestAddFdSkipsConsoleFds(t *testing.T) {
	sc, sys := newTestRig(t)
	p := newProc("p", sc, sys)

	n, err := p.AddFd(nil)
	require.Zero(t, err)
	require.GreaterOrEqual(t, n, 2) // 0 and 1 are the console fds
}
