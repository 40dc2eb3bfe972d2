package proc

import (
	"fmt"
	"sync"

	"minikernel/internal/accnt"
	"minikernel/internal/console"
	"minikernel/internal/defs"
	"minikernel/internal/fd"
	"minikernel/internal/klog"
	"minikernel/internal/limits"
	"minikernel/internal/sched"
	"minikernel/internal/vm"
)

// defaultPrio is the priority a freshly exec'd process's main thread
// starts at (§4.7 leaves the initial priority of a user thread
// unspecified beyond "some default"; this kernel picks the midpoint).
const defaultPrio = (sched.PriMin + sched.PriMax) / 2

var log = klog.Subsys("proc")

// maxFds is the per-process open file descriptor table size (§4.9 /
// limits.Syslimit caps the system-wide count; this caps one process).
const maxFds = 128

// consoleFds is how many low fds newProc wires to the console before any
// AddFd call; only fds at or above this index count against the
// system-wide limits.Syslimit.Fds budget.
const consoleFds = 2

// Proc_t is a user process (§3): the union of an address space, an open
// file table, accounting, and the bookkeeping needed to exec, wait on
// children, and exit. One Proc_t's main kernel thread is its identity;
// Pid is that thread's tid.
type Proc_t struct {
	mu sync.Mutex

	Pid  defs.Pid_t
	Name string

	Vm  *vm.Vm_t
	Sys *vm.System_t
	tb  *Table_t

	fds   [maxFds]*fd.Fd_t
	Accnt accnt.Accnt_t
	mainT *sched.Thread_t
	sc    *sched.Sched_t

	childrenMu sync.Mutex
	children   map[defs.Pid_t]*Ashes_t

	// myAshes is this process's own post-mortem record, allocated by its
	// parent's Execute call; nil for the bootstrap process, which has none.
	myAshes *Ashes_t

	exitCh   chan struct{}
	doneOnce sync.Once
}

// Table_t is the process table (§3): every live Proc_t, keyed by pid, so
// wait(2) can find a child and exit(2) can locate its parent's ashes
// record.
type Table_t struct {
	mu    sync.Mutex
	procs map[defs.Pid_t]*Proc_t
}

func NewTable() *Table_t {
	return &Table_t{procs: make(map[defs.Pid_t]*Proc_t)}
}

// add registers p, failing with -ENFILE if doing so would exceed
// limits.Syslimit.Sysprocs (§4.9's system-wide process cap).
func (tb *Table_t) add(p *Proc_t) defs.Err_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.procs) >= limits.Syslimit.Sysprocs {
		return -defs.ENFILE
	}
	p.tb = tb
	tb.procs[p.Pid] = p
	return 0
}

func (tb *Table_t) remove(pid defs.Pid_t) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.procs, pid)
}

// Get looks up a live process by pid.
func (tb *Table_t) Get(pid defs.Pid_t) (*Proc_t, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p, ok := tb.procs[pid]
	return p, ok
}

// newProc allocates a process shell with fd 0/1 wired to the console and
// no memory map yet; Execute finishes setting it up.
func newProc(name string, sc *sched.Sched_t, sys *vm.System_t) *Proc_t {
	p := &Proc_t{
		Name:     name,
		Sys:      sys,
		sc:       sc,
		children: make(map[defs.Pid_t]*Ashes_t),
	}
	p.fds[0] = &fd.Fd_t{Fops: &console.Cons_t{Reader: true}, Perms: fd.FD_READ}
	p.fds[1] = &fd.Fd_t{Fops: &console.Cons_t{Reader: false}, Perms: fd.FD_WRITE}
	return p
}

// NewBareProc builds a Proc_t with its console fds set up but no memory
// map or ashes record, for tests that want to drive the syscall layer
// directly without a full Execute. Real processes only ever come from
// Execute.
func NewBareProc(name string, sc *sched.Sched_t, sys *vm.System_t, mainT *sched.Thread_t) *Proc_t {
	p := newProc(name, sc, sys)
	p.mainT = mainT
	return p
}

// Execute implements exec(2) (§4.9): it spawns a kernel thread that
// builds the child's address space, loads exe, and sets up its argv
// stack, then blocks the caller until that either succeeds (returning
// the new pid) or fails (returning -1), mirroring process_execute's
// load-then-signal handshake in the original's userprog/process.c.
func Execute(parent *Proc_t, tb *Table_t, name string, exe *vm.Executable_t, argv []string, stackTop uintptr) (defs.Pid_t, defs.Err_t) {
	child := newProc(name, parent.sc, parent.Sys)

	var ashesRef *Ashes_t
	var tableErr defs.Err_t

	started := make(chan struct{})
	parent.sc.Spawn(name, defaultPrio, func(t *sched.Thread_t) {
		child.Pid = defs.Pid_t(t.Tid_())
		child.mainT = t
		child.Vm = vm.NewVm(int(child.Pid))
		ashesRef = NewAshes(parent.sc, child.Pid)
		child.myAshes = ashesRef
		close(started)

		ok := loadChild(child, exe, argv, stackTop)
		if ok {
			if err := tb.add(child); err != 0 {
				tableErr = err
				ok = false
			}
		}
		ashesRef.SignalLoaded(t, ok)
		if ok {
			<-waitForExit(child)
		}
		parent.sc.Exit(t)
	})
	<-started

	if !ashesRef.WaitLoaded(parent.mainT) {
		if tableErr != 0 {
			return -1, tableErr
		}
		return -1, -defs.ENOEXEC
	}

	parent.childrenMu.Lock()
	parent.children[child.Pid] = ashesRef
	parent.childrenMu.Unlock()

	return child.Pid, 0
}

// loadChild installs the child's segments and stack and materializes the
// initial argv frame. Returns false on any failure (bad executable,
// out of memory), matching load()'s single bool result in the original.
func loadChild(child *Proc_t, exe *vm.Executable_t, argv []string, stackTop uintptr) bool {
	as := child.Vm
	as.Lock_pmap()
	defer as.Unlock_pmap()

	if err := vm.InstallSegments(child.Sys, as, exe); err != 0 {
		log.Warnf("pid %d: bad segment table: err=%d", child.Pid, err)
		return false
	}
	if err := vm.InstallStack(as, stackTop); err != 0 {
		log.Warnf("pid %d: stack vma install failed: err=%d", child.Pid, err)
		return false
	}
	if _, err := vm.SetupArgvStack(child.Sys, as, stackTop, argv); err != 0 {
		log.Warnf("pid %d: argv stack setup failed: err=%d", child.Pid, err)
		return false
	}
	return true
}

// waitForExit is a placeholder synchronization point a real dispatcher
// would instead drive off the thread's own exit; here the child's body
// goroutine blocks on its own exit channel until Exit closes it.
func waitForExit(p *Proc_t) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCh == nil {
		p.exitCh = make(chan struct{})
	}
	return p.exitCh
}

// Wait implements wait(2) (§4.9): blocks until the named child has
// exited, consumes its ashes record exactly once, and returns its exit
// status. Returns -ECHILD if pid never was, or no longer is, a live
// child of the caller.
func Wait(parent *Proc_t, pid defs.Pid_t) (int, defs.Err_t) {
	parent.childrenMu.Lock()
	a, ok := parent.children[pid]
	parent.childrenMu.Unlock()
	if !ok {
		return 0, -defs.ECHILD
	}
	if a.MarkWaited() {
		return 0, -defs.ECHILD
	}

	status := a.WaitExited(parent.mainT)

	parent.childrenMu.Lock()
	delete(parent.children, pid)
	parent.childrenMu.Unlock()

	return status, 0
}

// Exit implements exit(2) (§4.9): prints the Pintos-style status line,
// closes every open fd, tears down the memory map (writing back dirty
// mmap pages and releasing swap, via vm.System_t.Teardown), removes the
// process from the table, and finally signals the parent's ashes record
// so a blocked Wait can return.
func (p *Proc_t) Exit(status int) {
	p.doneOnce.Do(func() {
		fmt.Printf("%s: exit(%d)\n", p.Name, status)

		if p.mainT != nil {
			p.Accnt.Add(&p.mainT.Accnt)
		}

		p.mu.Lock()
		for i, f := range p.fds {
			if f != nil {
				fd.Close_panic(f)
				p.fds[i] = nil
				if i >= consoleFds {
					limits.Syslimit.Fds.Give()
				}
			}
		}
		p.mu.Unlock()

		if p.Vm != nil {
			p.Sys.Teardown(p.Vm)
		}

		if p.tb != nil {
			p.tb.remove(p.Pid)
		}

		p.mu.Lock()
		ch := p.exitCh
		p.mu.Unlock()
		if ch != nil {
			close(ch)
		}

		if p.myAshes != nil {
			p.myAshes.SignalExited(status)
		}
	})
}

// AddFd installs f at the lowest free slot, returning -EMFILE if the
// per-process table is full or -ENFILE if doing so would exceed the
// system-wide descriptor cap, limits.Syslimit.Fds (§4.9/§4.10).
func (p *Proc_t) AddFd(f *fd.Fd_t) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, slot := range p.fds {
		if slot == nil {
			if !limits.Syslimit.Fds.Take() {
				return 0, -defs.ENFILE
			}
			p.fds[i] = f
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// GetFd returns the descriptor at fdn, or -EBADF if it's out of range or
// unused.
func (p *Proc_t) GetFd(fdn int) (*fd.Fd_t, defs.Err_t) {
	if fdn < 0 || fdn >= maxFds {
		return nil, -defs.EBADF
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.fds[fdn]
	if f == nil {
		return nil, -defs.EBADF
	}
	return f, 0
}

// CloseFd closes and clears the descriptor at fdn.
func (p *Proc_t) CloseFd(fdn int) defs.Err_t {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	p.fds[fdn] = nil
	p.mu.Unlock()
	if fdn >= consoleFds {
		limits.Syslimit.Fds.Give()
	}
	return f.Fops.Close()
}
