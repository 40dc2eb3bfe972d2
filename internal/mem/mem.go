// Package mem is the physical page allocator: a fixed arena of frame-sized
// pages, each with a reference count, handed out and reclaimed by index.
// The teacher's Physmem_t walks real physical addresses through a
// bare-metal direct map built with a patched Go runtime (runtime.Get_phys,
// runtime.Cpuid, a recursive page-table slot); none of that exists on
// stock Go, and hardware paging setup is explicitly out of scope here, so
// physical memory is instead simulated as a plain Go slice indexed by
// Pa_t. The refcounting arena and free-list shape (Physpg_t, the
// linked-by-index free list, Refup/Refdown/Refcnt) are kept as-is — they
// are the actual policy this subsystem is responsible for.
package mem

import (
	"sync"
	"sync/atomic"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PTE_P marks a page as present in an (abstract) page table entry.
const PTE_P uint = 1 << 0

// PTE_W marks a page writable.
const PTE_W uint = 1 << 1

// PTE_U marks a page user-accessible.
const PTE_U uint = 1 << 2

// Pa_t identifies a physical frame: an index into the physical page arena.
// Index zero is an ordinary frame (the first one Refpg_new hands out), so
// a Pa_t alone cannot mean "no frame".
type Pa_t uint32

// Pg_t is one page's worth of raw storage.
type Pg_t [PGSIZE]byte

// Page_i abstracts physical page allocation so frame and vm can be tested
// against a fake in addition to the real global allocator.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

// Physpg_t is the bookkeeping for one arena slot.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32 // index of next page on the free list, or sentinel
}

const nilIdx uint32 = ^uint32(0)

// Physmem_t is the global physical memory allocator: an arena of pages
// plus a singly-linked free list threaded through Physpg_t.nexti.
type Physmem_t struct {
	sync.Mutex
	Pgs     []Physpg_t
	storage []Pg_t
	freei   uint32
	freelen int32
}

// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// Phys_init reserves npages frames of simulated physical memory. The
// teacher sizes this from free RAM reported by the bootloader (src/mem.go's
// Phys_init reserved a fixed 1<<16 pages); since there is no bootloader
// here the caller picks the size (cmd/kernel wires it to a flag).
func Phys_init(npages int) *Physmem_t {
	phys := Physmem
	phys.Pgs = make([]Physpg_t, npages)
	phys.storage = make([]Pg_t, npages)
	for i := range phys.Pgs {
		phys.Pgs[i].nexti = uint32(i) + 1
	}
	phys.Pgs[npages-1].nexti = nilIdx
	phys.freei = 0
	phys.freelen = int32(npages)
	return phys
}

func (phys *Physmem_t) refaddr(p Pa_t) *int32 {
	return &phys.Pgs[p].Refcnt
}

// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	return int(atomic.LoadInt32(phys.refaddr(p)))
}

// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p Pa_t) {
	c := atomic.AddInt32(phys.refaddr(p), 1)
	if c <= 0 {
		panic("refup: frame was not allocated")
	}
}

// Refdown decrements the reference count of a page, returning the page to
// the free list and returning true once it reaches zero.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	c := atomic.AddInt32(phys.refaddr(p), -1)
	if c < 0 {
		panic("refdown: refcount went negative")
	}
	if c != 0 {
		return false
	}
	phys.Lock()
	phys.Pgs[p].nexti = phys.freei
	phys.freei = uint32(p)
	phys.freelen++
	phys.Unlock()
	return true
}

// Refpg_new allocates a zeroed page and returns its storage, identity, and
// whether allocation succeeded. The returned page's refcount starts at 1.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	phys.Lock()
	if phys.freei == nilIdx {
		phys.Unlock()
		return nil, 0, false
	}
	idx := phys.freei
	phys.freei = phys.Pgs[idx].nexti
	phys.freelen--
	phys.Pgs[idx].Refcnt = 1
	phys.Unlock()

	pg := &phys.storage[idx]
	for i := range pg {
		pg[i] = 0
	}
	return pg, Pa_t(idx), true
}

// Dmap returns the page storage backing frame p; the teacher's name for
// "physical address to kernel-accessible pointer", kept because frame and
// vm call it by this name throughout.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	return &phys.storage[p]
}

// Dmap8 returns p's storage as a byte slice, mirroring the teacher's
// helper of the same name.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	return pg[:]
}

// Nfree reports the number of unallocated frames, for accounting/tests.
func (phys *Physmem_t) Nfree() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

// Ntotal reports the arena's total capacity.
func (phys *Physmem_t) Ntotal() int {
	return len(phys.Pgs)
}
