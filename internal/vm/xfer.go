package vm

import "minikernel/internal/defs"

// Userdmap8Inner returns the slice of the resident frame backing the user
// page containing va, materializing it via the fault handler first if it
// isn't resident (so a kernel-initiated copy into a freshly-mmap'd or
// swapped-out user buffer behaves exactly like a hardware page fault
// would). The caller must already hold as's pmap lock (§4.4, §4.10).
func (sys *System_t) Userdmap8Inner(as *Vm_t, va int, write bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	uva := uintptr(va)
	upage := uva &^ uintptr(PGSIZE-1)
	voff := uva - upage

	vmi, ok := as.Region.Find(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	shadow := vmi.shadowFor(upage)
	if !shadow.PTE.Present {
		// approximate the user stack pointer with the faulting address
		// itself: this path has no saved trap frame to consult, only
		// the syscall boundary's copy loop (§4.10).
		if err := sys.handleFaultLocked(as, uva, upage, uva, write, false); err != 0 {
			return nil, err
		}
		shadow = vmi.shadowFor(upage)
	}
	if write && !shadow.PTE.Writable {
		return nil, -defs.EFAULT
	}
	shadow.PTE.Accessed = true
	if write {
		shadow.PTE.Dirty = true
		sys.Frames.MarkDirty(as, upage)
	}
	full := sys.Phys.Dmap8(shadow.PTE.Frame)
	return full[voff:], 0
}

// userreadnInner reads up to 8 little-endian bytes starting at va and
// returns them as an int; Useriovec_t.Iov_init uses it to parse the
// user-supplied iovec array's uva/len fields.
func (sys *System_t) userreadnInner(as *Vm_t, va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	var buf [8]byte
	got := 0
	for got < n {
		p, err := sys.Userdmap8Inner(as, va+got, false)
		if err != 0 {
			return 0, err
		}
		c := copy(buf[got:n], p)
		if c == 0 {
			break
		}
		got += c
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return int(v), 0
}
