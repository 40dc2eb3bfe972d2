// Package fdops defines the interfaces a file descriptor's backing object
// must implement: a small vtable (Fdops_i) invoked by the syscall layer
// (C10), and the user/kernel buffer abstraction (Userio_i) that read and
// write syscalls copy through. Concrete implementations (console, regular
// file, block device) live in the packages that own those resources; this
// package only fixes the contract so fd, vm, and the syscall boundary can
// all depend on it without depending on each other.
package fdops

import "minikernel/internal/defs"

// Userio_i abstracts a source or destination for a read/write syscall: a
// real user-space buffer pinned and copied through the page tables
// (vm.Userbuf_t), or a buffer already resident in the kernel
// (vm.Fakeubuf_t), used when the kernel itself is the caller and holds
// the bytes in a plain slice.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Fdops_i is implemented by every kind of file descriptor backing object.
// Offsets, if relevant to the concrete type, are tracked internally;
// Read/Write advance them.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st *Stat_i) defs.Err_t
	Read(dst Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(src Userio_i) (int, defs.Err_t)
	Seek(off int, whence int) (int, defs.Err_t)
}

// Stat_i is the subset of stat.Stat_t's setters Fdops_i.Fstat needs; kept
// as an interface here so fdops does not import stat and create a cycle
// with packages that implement Fdops_i but not have a use for full stat.
type Stat_i interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}
