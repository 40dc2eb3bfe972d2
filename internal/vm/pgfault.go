package vm

import (
	"time"

	"minikernel/internal/defs"
	"minikernel/internal/klog"
	"minikernel/internal/mem"
	"minikernel/internal/oommsg"
	"minikernel/internal/stats"
	"minikernel/internal/swap"
)

var log = klog.Subsys("vm")

// Vmstats_t counts fault-handler activity the way the teacher's
// Counter_t-studded per-subsystem stat structs do; only live when
// stats.Stats is toggled on, otherwise Inc is a no-op.
type Vmstats_t struct {
	Faults    stats.Counter_t
	Evictions stats.Counter_t
	Oom       stats.Counter_t
}

// System_t is the process-wide VM context (Design Notes: "global mutable
// state... a process-wide kernel context initialized once at boot"): the
// frame table, the swap slot manager, and the physical page allocator
// every address space's fault handling shares.
type System_t struct {
	Frames *FrameTable_t
	Swap   *swap.Table_t
	Phys   *mem.Physmem_t
	Stats  Vmstats_t
}

// NewSystem wires a frame table sized to framesCap frames against the
// given swap table and physical allocator.
func NewSystem(framesCap int, sw *swap.Table_t, phys *mem.Physmem_t) *System_t {
	return &System_t{
		Frames: NewFrameTable(framesCap),
		Swap:   sw,
		Phys:   phys,
	}
}

// stackFaultSlack is how far below the user stack pointer a fault is
// still considered a stack-growth request (§4.4).
const stackFaultSlack = 32

// stackLowerBound is the lowest address the heuristic will grow the
// stack down to.
const stackLowerBound = uintptr(mem.PGSIZE) // one page above address 0

// HandleFault is the page-fault handler (§4.4), invoked from the trap
// frame with the faulting address and the current user stack pointer (so
// the stack-growth heuristic can compare against it).
func (sys *System_t) HandleFault(as *Vm_t, addr, userSP uintptr, write, fromUser bool) defs.Err_t {
	// A fault taken in kernel mode while dereferencing a user pointer
	// (fromUser == false, e.g. from inside Userdmap8) is handled
	// identically here; it's the syscall boundary's recoverable-load
	// idiom, not this function, that decides whether a non-zero return
	// kills the thread or just fails the syscall (§4.4, §4.10).
	upage := addr &^ uintptr(PGSIZE-1)
	sys.Stats.Faults.Inc()

	as.Lock_pmap()
	defer as.Unlock_pmap()
	return sys.handleFaultLocked(as, addr, upage, userSP, write, fromUser)
}

// handleFaultLocked does the real work of HandleFault; it's split out so
// that callers which already hold the pmap lock (a syscall's user-buffer
// copy loop materializing an absent page) can reach it without recursing
// on as.mu.
func (sys *System_t) handleFaultLocked(as *Vm_t, addr, upage, userSP uintptr, write, fromUser bool) defs.Err_t {
	as.Lockassert_pmap()

	if as.StackVMA != nil && addr+stackFaultSlack >= userSP && addr >= stackLowerBound &&
		addr < as.StackVMA.Start {
		as.StackVMA.Start = upage
	}

	vmi, ok := as.Region.Find(addr)
	if !ok {
		return -defs.EFAULT
	}

	flt := Fault_t{Addr: addr, Upage: upage, FromUser: fromUser, Write: write}
	return vmi.Absent(sys, as, vmi, flt)
}

// obtainFrame is the bridge between the frame table and the VMA map
// (§4.8), the single entry point every absent handler uses to get a
// physical page to fill.
func (sys *System_t) obtainFrame() (mem.Pa_t, bool) {
	if _, pa, ok := sys.Phys.Refpg_new(); ok {
		return pa, true
	}

	victim, ok := sys.Frames.Pull(secondChanceSelect)
	if !ok {
		victim, ok = sys.Frames.Pull(fifoSelect)
	}
	if !ok {
		// Every frame is pinned (§4.10's syscall buffers, most likely):
		// there is nothing left to evict. Tell whoever is listening on
		// OomCh and give it one chance to free something before giving up.
		if sys.notifyOom() {
			victim, ok = sys.Frames.Pull(secondChanceSelect)
			if !ok {
				victim, ok = sys.Frames.Pull(fifoSelect)
			}
		}
	}
	if !ok {
		return 0, false
	}
	sys.evict(victim)
	return victim.Frame, true
}

// oomNoticeTimeout bounds how long obtainFrame waits for an OomCh
// listener to attempt reclaiming a frame before giving up.
const oomNoticeTimeout = 10 * time.Millisecond

// notifyOom posts to oommsg.OomCh and reports whether a listener
// acknowledged in time. A best-effort, non-blocking send: if nothing is
// listening (e.g. in tests that never start the boot monitor), it gives
// up immediately rather than wedging the faulting thread forever.
func (sys *System_t) notifyOom() bool {
	sys.Stats.Oom.Inc()
	resume := make(chan bool, 1)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: resume}:
	default:
		return false
	}
	select {
	case ok := <-resume:
		return ok
	case <-time.After(oomNoticeTimeout):
		return false
	}
}

// secondChanceSelect accepts a non-pinned entry with ACCESSED clear,
// clearing ACCESSED on every entry it rejects (§4.8 step 2).
func secondChanceSelect(e *FrameEntry_t) bool {
	if e.Flags&FrameLocked != 0 {
		return false
	}
	if e.Flags&FrameAccessed == 0 {
		return true
	}
	e.Flags &^= FrameAccessed
	return false
}

// fifoSelect is the fallback when a full revolution finds nothing with
// ACCESSED clear: any non-pinned entry.
func fifoSelect(e *FrameEntry_t) bool {
	return e.Flags&FrameLocked == 0
}

// evict reclaims victim's physical frame: clears the mapping in its
// owning address space's shadow table, saves its contents if needed
// (nothing for clean CODE pages, a file write-back for dirty MMAP pages,
// a swap-out otherwise). The frame stays allocated in sys.Phys, reference
// count unchanged: obtainFrame hands it straight to its caller to refill.
func (sys *System_t) evict(victim FrameEntry_t) {
	sys.Stats.Evictions.Inc()
	shadow := victim.Vma.shadowFor(victim.Upage)
	shadow.PTE.Present = false

	switch {
	case victim.Flags&FrameCode != 0:
		// read-only executable: identical to the file's bytes, no save needed
	case victim.Flags&FrameMmap != 0 && victim.Flags&FrameDirty != 0:
		sys.writebackMmapPage(victim)
	case victim.Flags&FrameMmap != 0:
		// clean mmap page: file already holds these bytes
	default:
		slot := sys.Swap.Get(uint32(victim.Upage))
		sys.Swap.LockAcquire(slot)
		sys.Swap.Write(slot, sys.Phys.Dmap8(victim.Frame))
		sys.Swap.LockRelease(slot)
		shadow.Swap = uint32(slot)
	}
}

func (sys *System_t) writebackMmapPage(victim FrameEntry_t) {
	vmi := victim.Vma
	off := vmi.FileOff + int(victim.Upage-vmi.Start)
	n := vmi.ReadBytes - int(victim.Upage-vmi.Start)
	if n <= 0 {
		return
	}
	if n > PGSIZE {
		n = PGSIZE
	}
	data := sys.Phys.Dmap8(victim.Frame)[:n]
	vmi.File.Seek(off, 0)
	w := kbufWriter{buf: data}
	vmi.File.Write(&w)
}

// kbufWriter adapts a raw kernel byte slice to fdops.Userio_i so mmap
// write-back can reuse Fdops_i.Write without a real user buffer.
type kbufWriter struct {
	buf []byte
	off int
}

func (w *kbufWriter) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, w.buf[w.off:])
	w.off += n
	return n, 0
}
func (w *kbufWriter) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(w.buf[w.off:], src)
	w.off += n
	return n, 0
}
func (w *kbufWriter) Remain() int  { return len(w.buf) - w.off }
func (w *kbufWriter) Totalsz() int { return len(w.buf) }

// installShadow fills a shadow entry as resident in frame pa with the
// given writability, and registers the frame in the global frame table
// with the appropriate CODE/DATA/MMAP flag.
func (sys *System_t) installShadow(as *Vm_t, vmi *Vminfo_t, upage uintptr, pa mem.Pa_t, writable bool) {
	shadow := vmi.shadowFor(upage)
	shadow.PTE = PTE_t{Present: true, Frame: pa, Writable: writable, Accessed: true}
	shadow.Swap = 0

	var flags FrameFlag = FrameAccessed
	switch {
	case vmi.Kind == KindMmap:
		flags |= FrameMmap
	case vmi.Perm&PermExecutable != 0 && vmi.Perm&PermWrite == 0:
		flags |= FrameCode
	default:
		flags |= FrameData
	}
	sys.Frames.Push(FrameEntry_t{Frame: pa, Owner: as, Upage: upage, Vma: vmi, Flags: flags})
}

// AbsentLoad implements the load-segment handler (§4.3): file-backed,
// read-executable or writable data.
func AbsentLoad(sys *System_t, as *Vm_t, vmi *Vminfo_t, flt Fault_t) defs.Err_t {
	shadow := vmi.shadowFor(flt.Upage)
	pa, ok := sys.obtainFrame()
	if !ok {
		return -defs.ENOMEM
	}
	dst := sys.Phys.Dmap8(pa)

	if shadow.Swap != 0 {
		slot := swap.Slot_t(shadow.Swap)
		sys.Swap.LockAcquire(slot)
		sys.Swap.Read(slot, dst)
		sys.Swap.LockRelease(slot)
		sys.Swap.Free(slot)
	} else {
		pageOff := int(flt.Upage - vmi.Start)
		fileReadable := vmi.ReadBytes - pageOff
		n := fileReadable
		if n > PGSIZE {
			n = PGSIZE
		}
		if n < 0 {
			n = 0
		}
		// a segment whose file bytes start partway into its first page
		// (Vaddr not page-aligned, FileOff smaller than that in-page
		// offset) gets zeros in front of them
		off, lead := vmi.FileOff+pageOff, 0
		if off < 0 {
			lead, off = -off, 0
		}
		for i := 0; i < lead && i < n; i++ {
			dst[i] = 0
		}
		if n > lead {
			vmi.File.Seek(off, 0)
			r := kbufWriter{buf: dst[lead:n]}
			if _, err := vmi.File.Read(&r); err != 0 {
				return err
			}
		}
		for i := n; i < PGSIZE; i++ {
			dst[i] = 0
		}
	}

	writable := vmi.Perm&PermWrite != 0
	sys.installShadow(as, vmi, flt.Upage, pa, writable)
	return 0
}

// AbsentStack implements the stack handler (§4.3): same shape as
// load-segment but always zero-filled or swap-restored, always writable.
func AbsentStack(sys *System_t, as *Vm_t, vmi *Vminfo_t, flt Fault_t) defs.Err_t {
	shadow := vmi.shadowFor(flt.Upage)
	pa, ok := sys.obtainFrame()
	if !ok {
		return -defs.ENOMEM
	}
	dst := sys.Phys.Dmap8(pa)
	if shadow.Swap != 0 {
		slot := swap.Slot_t(shadow.Swap)
		sys.Swap.LockAcquire(slot)
		sys.Swap.Read(slot, dst)
		sys.Swap.LockRelease(slot)
		sys.Swap.Free(slot)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	sys.installShadow(as, vmi, flt.Upage, pa, true)
	return 0
}

// AbsentMmap implements the mmap handler (§4.3): like load-segment, but
// writes stay resident and are written back to the file on eviction and
// on unmap/exit rather than being silently dropped or swapped.
func AbsentMmap(sys *System_t, as *Vm_t, vmi *Vminfo_t, flt Fault_t) defs.Err_t {
	err := AbsentLoad(sys, as, vmi, flt)
	if err != 0 {
		return err
	}
	sys.Frames.ForEach(func(e *FrameEntry_t) {
		if e.Owner == as && e.Upage == flt.Upage {
			e.Flags |= FrameMmap
		}
	})
	return 0
}
