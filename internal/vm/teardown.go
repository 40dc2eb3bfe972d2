package vm

import (
	"minikernel/internal/defs"
	"minikernel/internal/swap"
)

// Teardown implements the memory half of process exit (§4.9): every dirty
// mmap page is written back to its file, every frame the address space
// owns is dropped from the global frame table and handed back to the
// physical page allocator, and every swap slot any of
// its VMAs still references is released. Call this once, with no other
// access to as in flight.
func (sys *System_t) Teardown(as *Vm_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	owned := sys.Frames.RemoveIf(func(e *FrameEntry_t) bool { return e.Owner == as })
	for _, e := range owned {
		if e.Flags&FrameMmap != 0 && e.Flags&FrameDirty != 0 {
			sys.writebackMmapPage(e)
		}
		sys.Phys.Refdown(e.Frame)
	}

	for _, vmi := range as.Region.All() {
		for _, shadow := range vmi.Shadow {
			if shadow.Swap != 0 {
				s := swap.Slot_t(shadow.Swap)
				if sys.Swap.Live(s) {
					sys.Swap.Free(s)
				}
				shadow.Swap = 0
			}
		}
	}
}

// Unmap implements the memory half of munmap (§4.3/§4.10): writes back
// every dirty page the VMA starting at start owns, drops its frames from
// the frame table, releases any swap slots it still references, and
// removes it from as's VMA list. Returns -EINVAL if no VMA starts there.
// Caller holds as's pmap lock.
func (sys *System_t) Unmap(as *Vm_t, start uintptr) defs.Err_t {
	as.Lockassert_pmap()

	vmi, ok := as.Region.Remove(start)
	if !ok {
		return -defs.EINVAL
	}

	owned := sys.Frames.RemoveIf(func(e *FrameEntry_t) bool {
		return e.Owner == as && e.Vma == vmi
	})
	for _, e := range owned {
		if e.Flags&FrameMmap != 0 && e.Flags&FrameDirty != 0 {
			sys.writebackMmapPage(e)
		}
	}

	for _, shadow := range vmi.Shadow {
		if shadow.Swap != 0 {
			s := swap.Slot_t(shadow.Swap)
			if sys.Swap.Live(s) {
				sys.Swap.Free(s)
			}
			shadow.Swap = 0
		}
	}
	return 0
}
