// Package vm implements the memory-area map, shadow page table, and
// page-fault handler (§4.3, §4.4), and — merged into the same package for
// the same reason sched merges threads and locks — the frame table
// (§4.2) and the frame-acquisition bridge between them (§4.8): obtaining
// a frame on a fault may need to evict a victim frame belonging to some
// other Vm_t, and the VMA owning that victim's shadow entry is what
// records where its contents go (swap slot or mmap'd file), so the two
// data structures are read and written as one operation. Splitting them
// into separate packages would just turn that coupling into an import
// cycle.
package vm

import (
	"sync"

	"minikernel/internal/defs"
	"minikernel/internal/fdops"
	"minikernel/internal/mem"
)

// PGSIZE mirrors mem.PGSIZE under the name the rest of this package uses.
const PGSIZE = mem.PGSIZE

// Perm is the VMA permission/kind flag set (§3: "a flag set {READ, WRITE,
// EXEC, SHARED, EXECUTABLE, MMAP}").
type Perm uint32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
	PermShared
	PermExecutable
	PermMmap
)

// Kind selects which of the three concrete absent handlers a VMA uses.
type Kind int

const (
	KindLoad Kind = iota
	KindStack
	KindMmap
)

// Fault_t is what the page-fault handler passes to a VMA's Absent
// handler: the faulting address, already split into page number and
// in-page offset, and whether the fault was taken on behalf of user code.
type Fault_t struct {
	Addr     uintptr
	Upage    uintptr // Addr rounded down to a page boundary
	FromUser bool
	Write    bool
}

// PTE_t is the abstract page-table-entry this kernel installs: whether
// the page is resident, which frame backs it, and its software
// dirty/accessed bits. Real hardware page-table management (a literal
// x86 4-level walk) is explicitly out of scope (§1); every place the
// spec says "install in the hardware page table" this type is what gets
// updated instead.
type PTE_t struct {
	Present  bool
	Frame    mem.Pa_t
	Writable bool
	Dirty    bool
	Accessed bool
}

// ShadowEntry_t is one entry of a VMA's shadow page table (§3): the
// authoritative record of where a user page's contents live, whether
// that's a resident frame (PTE.Present) or a swap slot.
type ShadowEntry_t struct {
	Upage uintptr
	PTE   PTE_t
	Swap  swapSlot // 0 if not swapped out
}

// swapSlot avoids an import of package swap here; vm treats slot ids as
// opaque integers and only the code that actually issues swap I/O
// (pgfault.go) imports package swap and converts.
type swapSlot = uint32

// AbsentFn is invoked by the page-fault handler when a VMA has no
// resident page for an address (§3's "handler vtable with one operation
// absent(vma, fault)").
type AbsentFn func(sys *System_t, as *Vm_t, vmi *Vminfo_t, flt Fault_t) defs.Err_t

// Vminfo_t is a memory-area descriptor (VMA): §3.
type Vminfo_t struct {
	Start, End uintptr // page-aligned, half-open [Start, End)
	Perm       Perm
	Kind       Kind
	Absent     AbsentFn

	File      fdops.Fdops_i
	FileOff   int
	ReadBytes int
	ZeroBytes int
	MmapID    int

	Shadow map[uintptr]*ShadowEntry_t
}

func (v *Vminfo_t) shadowFor(upage uintptr) *ShadowEntry_t {
	e, ok := v.Shadow[upage]
	if !ok {
		e = &ShadowEntry_t{Upage: upage}
		v.Shadow[upage] = e
	}
	return e
}

// Vmregion_t is the per-process ordered, disjoint list of VMAs (§4.3).
type Vmregion_t struct {
	mu   sync.Mutex
	list []*Vminfo_t
}

// Insert validates that vmi's range does not overlap any existing VMA and
// inserts it in address order. Returns false (and does not insert) on
// overlap.
func (r *Vmregion_t) Insert(vmi *Vminfo_t) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := 0
	for ; i < len(r.list); i++ {
		if r.list[i].Start >= vmi.End {
			break
		}
		if vmi.Start < r.list[i].End {
			return false // overlap
		}
	}
	if vmi.Shadow == nil {
		vmi.Shadow = make(map[uintptr]*ShadowEntry_t)
	}
	r.list = append(r.list, nil)
	copy(r.list[i+1:], r.list[i:])
	r.list[i] = vmi
	return true
}

// Find performs the linear scan §4.3 specifies, starting at the head of
// the list. Per §5, this traversal does not take r.mu: the list only
// grows (at load and mmap time) and nodes are never removed except at
// process exit, when no concurrent traversal is possible.
func (r *Vmregion_t) Find(addr uintptr) (*Vminfo_t, bool) {
	for _, v := range r.list {
		if addr >= v.Start && addr < v.End {
			return v, true
		}
		if addr < v.Start {
			break
		}
	}
	return nil, false
}

// Sorted reports whether the VMA list is sorted by Start and pairwise
// disjoint, for testing the §8 invariant directly.
func (r *Vmregion_t) Sorted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.list); i++ {
		if r.list[i-1].End > r.list[i].Start {
			return false
		}
	}
	return true
}

// All returns a snapshot of the VMA list, for teardown and tests.
func (r *Vmregion_t) All() []*Vminfo_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Vminfo_t, len(r.list))
	copy(out, r.list)
	return out
}

// Remove deletes the VMA starting at start, for munmap (§4.3/§4.10). The
// caller has already evicted its frames and written back any dirty mmap
// pages; this just drops it from the list so future faults in its range
// see unmapped memory again.
func (r *Vmregion_t) Remove(start uintptr) (*Vminfo_t, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.list {
		if v.Start == start {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return v, true
		}
	}
	return nil, false
}

// Vm_t is a process's memory descriptor (§3): its VMA list, the stack
// VMA singled out for the page-fault handler's stack-growth heuristic,
// and the lock guarding list mutation. "Page directory" in the original
// is a literal hardware construct; here PID stands in as the address
// space's identity (frame-table entries and TLB-shootdown-equivalent
// bookkeeping key off it instead of a cr3 value).
type Vm_t struct {
	mu        sync.Mutex
	pgfltaken bool

	Region   Vmregion_t
	StackVMA *Vminfo_t
	PID      int
}

// NewVm creates an empty address space for the given process id.
func NewVm(pid int) *Vm_t {
	return &Vm_t{PID: pid}
}

// Lock_pmap acquires the address-space lock, which this kernel uses (as
// the teacher's Vm_t does) to serialize every operation that can install
// or remove a shadow mapping: a fault, a syscall's user-buffer copy loop,
// or mmap/exit's VMA-list mutation all hold it for their duration.
func (as *Vm_t) Lock_pmap() {
	as.mu.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.mu.Unlock()
}

// Lockassert_pmap panics if the address-space lock is not held; every
// function that touches a shadow entry or the VMA list calls this first.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: pmap lock must be held")
	}
}
