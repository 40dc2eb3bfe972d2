// Package syscall implements the syscall boundary (§4.10): user-pointer
// validation and pinning, argument fetch, and dispatch to the file
// system (C6), process lifecycle (C9), and VM (C2/C3) operations each
// syscall is defined in terms of.
package syscall

import (
	"minikernel/internal/defs"
	"minikernel/internal/fd"
	"minikernel/internal/fdops"
	"minikernel/internal/fs"
	"minikernel/internal/klog"
	"minikernel/internal/proc"
	"minikernel/internal/stat"
	"minikernel/internal/stats"
	"minikernel/internal/util"
	"minikernel/internal/vm"
)

var log = klog.Subsys("syscall")

// Sys_t is everything a syscall's argument fetch and dispatch needs:
// the process table (for exec/wait), the file namespace (for
// open/create/remove), and the VM context (for pinning and the actual
// page-table/frame-table operations underlying every user-pointer touch).
type Sys_t struct {
	Procs *proc.Table_t
	Fs    *fs.FsTable_t
	Vm    *vm.System_t
}

// pinRange touches and pins every frame backing [uva, uva+length) in as,
// returning an unpin function the caller defers (§4.10: "pins every page
// the buffer intersects... after the syscall, unpins all frames owned by
// the current page directory"). Touching materializes absent pages
// before pinning so eviction can never race a just-allocated page out
// from under the syscall.
func pinRange(sys *vm.System_t, as *vm.Vm_t, uva, length int) (func(), defs.Err_t) {
	if length <= 0 {
		return func() {}, 0
	}
	start := util.Rounddown(uva, vm.PGSIZE)
	end := util.Roundup(uva+length, vm.PGSIZE)

	for page := start; page < end; page += vm.PGSIZE {
		as.Lock_pmap()
		_, err := sys.Userdmap8Inner(as, page, false)
		as.Unlock_pmap()
		if err != 0 {
			return func() {}, err
		}
	}

	pred := func(e *vm.FrameEntry_t) bool {
		return e.Owner == as && int(e.Upage) >= start && int(e.Upage) < end
	}
	sys.Frames.Pin(pred)
	return func() { sys.Frames.Unpin(pred) }, 0
}

// Halt implements the halt syscall: no real power control to hand off to,
// so this just logs a shutdown line and, when stats.Stats is enabled, the
// VM fault/eviction/OOM counters accumulated since boot.
func Halt(sys *Sys_t) {
	log.Info("halt")
	if s := stats.Stats2String(sys.Vm.Stats); s != "" {
		log.Info(s)
	}
}

// Exit implements exit(status) (§4.9).
func Exit(p *proc.Proc_t, status int) {
	p.Exit(status)
}

// Exec implements exec(cmdline) (§4.9): builds an Executable_t for name
// and hands off to proc.Execute. Real argument-string splitting and ELF
// parsing live above this layer (out of scope, §1); callers already
// have argv and an Executable_t.
func Exec(sys *Sys_t, parent *proc.Proc_t, name string, exe *vm.Executable_t, argv []string, stackTop uintptr) (defs.Pid_t, defs.Err_t) {
	return proc.Execute(parent, sys.Procs, name, exe, argv, stackTop)
}

// Wait implements wait(tid) (§4.9).
func Wait(parent *proc.Proc_t, pid defs.Pid_t) (int, defs.Err_t) {
	return proc.Wait(parent, pid)
}

// Create implements create(name) (§4.10).
func Create(sys *Sys_t, name string) defs.Err_t {
	return sys.Fs.Create(name)
}

// Remove implements remove(name) (§4.10).
func Remove(sys *Sys_t, name string) defs.Err_t {
	return sys.Fs.Remove(name)
}

// Open implements open(name) (§4.10), installing the opened file at the
// calling process's lowest free descriptor.
func Open(sys *Sys_t, p *proc.Proc_t, name string) (int, defs.Err_t) {
	f, err := sys.Fs.Open(name)
	if err != 0 {
		return -1, err
	}
	fdn, err := p.AddFd(&fd.Fd_t{Fops: f, Perms: fd.FD_READ | fd.FD_WRITE})
	if err != 0 {
		f.Close()
		return -1, err
	}
	return fdn, 0
}

// Filesize implements filesize(fd) (§4.10).
func Filesize(p *proc.Proc_t, fdn int) (int, defs.Err_t) {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return 0, err
	}
	size, err := fstatSize(f.Fops)
	return size, err
}

// fstatSize reads back the Size field Fdops_i.Fstat fills in, via the real
// stat.Stat_t (the same type a real fstat(2) would hand back to a user
// buffer) so this layer and a future full-stat syscall share one struct.
func fstatSize(fops fdops.Fdops_i) (int, defs.Err_t) {
	var st stat.Stat_t
	var si fdops.Stat_i = &st
	if err := fops.Fstat(&si); err != 0 {
		return 0, err
	}
	return int(st.Size()), 0
}

// Read implements read(fd, buf, len) (§4.10): fd 0 is the console, every
// other fd goes through its Fdops_i. The user buffer is pinned for the
// duration of the copy.
func Read(sys *Sys_t, p *proc.Proc_t, as *vm.Vm_t, fdn int, uva, length int) (int, defs.Err_t) {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return -1, err
	}
	if f.Perms&fd.FD_READ == 0 {
		return -1, -defs.EBADF
	}

	unpin, err := pinRange(sys.Vm, as, uva, length)
	if err != 0 {
		return -1, err
	}
	defer unpin()

	ub := vm.Ubpool.Get().(*vm.Userbuf_t)
	defer vm.Ubpool.Put(ub)
	ub.Ub_init(sys.Vm, as, uva, length)
	return f.Fops.Read(ub)
}

// Write implements write(fd, buf, len) (§4.10). Writes to fd 1 are
// chunked into console-sized puts by console.Cons_t.Write itself.
func Write(sys *Sys_t, p *proc.Proc_t, as *vm.Vm_t, fdn int, uva, length int) (int, defs.Err_t) {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return -1, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return -1, -defs.EBADF
	}

	unpin, err := pinRange(sys.Vm, as, uva, length)
	if err != 0 {
		return -1, err
	}
	defer unpin()

	ub := vm.Ubpool.Get().(*vm.Userbuf_t)
	defer vm.Ubpool.Put(ub)
	ub.Ub_init(sys.Vm, as, uva, length)
	return f.Fops.Write(ub)
}

// Seek implements seek(fd, pos) (§4.10); tell is Seek(fd, 0, whence=1)
// composed by the caller (there's nothing left for this layer to do
// differently — both just call Fdops_i.Seek).
func Seek(p *proc.Proc_t, fdn, pos int) (int, defs.Err_t) {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return 0, err
	}
	return f.Fops.Seek(pos, 0)
}

// Tell implements tell(fd) (§4.10).
func Tell(p *proc.Proc_t, fdn int) (int, defs.Err_t) {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return 0, err
	}
	return f.Fops.Seek(0, 1)
}

// Close implements close(fd) (§4.10).
func Close(p *proc.Proc_t, fdn int) defs.Err_t {
	return p.CloseFd(fdn)
}

// Mmap implements mmap(fd, addr) (§4.3/§4.10): installs a file-backed VMA
// at addr sized to the file, handled by vm.AbsentMmap on first fault.
func Mmap(sys *Sys_t, p *proc.Proc_t, as *vm.Vm_t, fdn int, addr uintptr) (int, defs.Err_t) {
	f, err := p.GetFd(fdn)
	if err != 0 {
		return -1, err
	}
	size, err := fstatSize(f.Fops)
	if err != 0 {
		return -1, err
	}
	if size == 0 {
		return -1, -defs.EINVAL
	}

	start := util.Rounddown(addr, uintptr(vm.PGSIZE))
	end := util.Roundup(addr+uintptr(size), uintptr(vm.PGSIZE))
	vmi := &vm.Vminfo_t{
		Start:     start,
		End:       end,
		Perm:      vm.PermRead | vm.PermWrite | vm.PermMmap,
		Kind:      vm.KindMmap,
		Absent:    vm.AbsentMmap,
		File:      f.Fops,
		FileOff:   0,
		ReadBytes: size,
		ZeroBytes: int(end-start) - size,
	}

	as.Lock_pmap()
	ok := as.Region.Insert(vmi)
	as.Unlock_pmap()
	if !ok {
		return -1, -defs.EINVAL
	}
	return int(start), 0
}

// Munmap implements munmap(mapping) (§4.3/§4.10): mapping is the address
// Mmap returned, which doubles as this kernel's mapid since every mapping
// starts at a distinct page-aligned address. Writes back every dirty page
// of the mapping and removes its VMA.
func Munmap(sys *Sys_t, as *vm.Vm_t, mapping int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return sys.Vm.Unmap(as, uintptr(mapping))
}
