package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minikernel/internal/fs"
	"minikernel/internal/mem"
	"minikernel/internal/proc"
	"minikernel/internal/sched"
	"minikernel/internal/swap"
	"minikernel/internal/vm"
)

const testPGSIZE = mem.PGSIZE

func newTestSys() (*Sys_t, *sched.Sched_t) {
	dev := swap.NewMemDisk(8)
	sw := swap.New(dev, 8)
	phys := mem.Phys_init(64)
	vsys := vm.NewSystem(64, sw, phys)

	disk := fs.NewMemDisk()
	cache := fs.NewCache(disk, 16)
	fstab := fs.NewFsTable(cache)

	sc := sched.New(sched.ModePriority)
	return &Sys_t{Procs: proc.NewTable(), Fs: fstab, Vm: vsys}, sc
}

// runAsMain mirrors package proc's test helper: fn runs as the
// scheduler's one bootstrap thread so blocking calls (pinRange's fault
// materialization, exec/wait) have a real *sched.Thread_t behind them.
func runAsMain(sc *sched.Sched_t, fn func(t *sched.Thread_t)) {
	done := make(chan struct{})
	sc.Spawn("bootstrap", sched.PriMax, func(t *sched.Thread_t) {
		fn(t)
		sc.Exit(t)
		close(done)
	})
	<-done
}

func TestCreateFailsForExistingName(t *testing.T) {
	sys, sc := newTestSys()
	runAsMain(sc, func(mt *sched.Thread_t) {
		require.Zero(t, Create(sys, "greeting"))
		require.NotZero(t, Create(sys, "greeting"))
	})
}

func TestOpenWriteReadRoundTripThroughSyscallLayer(t *testing.T) {
	sys, sc := newTestSys()

	runAsMain(sc, func(mt *sched.Thread_t) {
		require.Zero(t, Create(sys, "greeting"))

		as := vm.NewVm(1)
		as.Lock_pmap()
		require.Zero(t, vm.InstallStack(as, uintptr(4*testPGSIZE)))
		as.Unlock_pmap()

		p := newProcForSyscallTest(sc, sys.Vm, mt)

		fdn, err := Open(sys, p, "greeting")
		require.Zero(t, err)
		require.GreaterOrEqual(t, fdn, 2)

		msg := []byte("hello, kernel\n")
		stackTop := uintptr(4 * testPGSIZE)
		writeUva := int(stackTop) - testPGSIZE/2

		as.Lock_pmap()
		for i, b := range msg {
			buf, werr := sys.Vm.Userdmap8Inner(as, writeUva+i, true)
			require.Zero(t, werr)
			buf[0] = b
		}
		as.Unlock_pmap()

		n, werr := Write(sys, p, as, fdn, writeUva, len(msg))
		require.Zero(t, werr)
		require.Equal(t, len(msg), n)

		_, serr := Seek(p, fdn, 0)
		require.Zero(t, serr)

		readUva := writeUva - 64
		n, rerr := Read(sys, p, as, fdn, readUva, len(msg))
		require.Zero(t, rerr)
		require.Equal(t, len(msg), n)

		as.Lock_pmap()
		for i := range msg {
			buf, gerr := sys.Vm.Userdmap8Inner(as, readUva+i, false)
			require.Zero(t, gerr)
			require.Equal(t, msg[i], buf[0])
		}
		as.Unlock_pmap()

		require.Zero(t, Close(p, fdn))
	})
}

// TestMmapWriteMunmapReopenReadRoundTrip exercises §8's mmap durability
// property: bytes written through a mapping survive munmap and are
// visible to a fresh read of the underlying file afterward.
func TestMmapWriteMunmapReopenReadRoundTrip(t *testing.T) {
	sys, sc := newTestSys()

	runAsMain(sc, func(mt *sched.Thread_t) {
		require.Zero(t, Create(sys, "mapped"))

		as := vm.NewVm(1)
		as.Lock_pmap()
		require.Zero(t, vm.InstallStack(as, uintptr(4*testPGSIZE)))
		as.Unlock_pmap()
		p := newProcForSyscallTest(sc, sys.Vm, mt)

		// Give the file a page of content to map by writing through the
		// syscall layer first, since mmap requires a non-empty file.
		fdn, err := Open(sys, p, "mapped")
		require.Zero(t, err)
		msg := []byte("mmap roundtrip contents")
		stackTop := uintptr(4 * testPGSIZE)
		srcUva := int(stackTop) - testPGSIZE/2
		as.Lock_pmap()
		for i, b := range msg {
			buf, werr := sys.Vm.Userdmap8Inner(as, srcUva+i, true)
			require.Zero(t, werr)
			buf[0] = b
		}
		as.Unlock_pmap()
		n, werr := Write(sys, p, as, fdn, srcUva, len(msg))
		require.Zero(t, werr)
		require.Equal(t, len(msg), n)
		require.Zero(t, Close(p, fdn))

		fdn2, err := Open(sys, p, "mapped")
		require.Zero(t, err)

		mapAddr, merr := Mmap(sys, p, as, fdn2, uintptr(8*testPGSIZE))
		require.Zero(t, merr)

		// Touch the mapping and overwrite its first few bytes; this
		// should fault the page in via AbsentMmap and mark it dirty.
		as.Lock_pmap()
		overwrite := []byte("OVERWRITTEN")
		for i, b := range overwrite {
			buf, ferr := sys.Vm.Userdmap8Inner(as, mapAddr+i, true)
			require.Zero(t, ferr)
			buf[0] = b
		}
		as.Unlock_pmap()

		require.Zero(t, Munmap(sys, as, mapAddr))

		// Re-open the file fresh and confirm the overwrite made it back
		// to the buffer cache, not just the now-torn-down mapping.
		fdn3, err := Open(sys, p, "mapped")
		require.Zero(t, err)
		readUva := srcUva - 64
		rn, rerr := Read(sys, p, as, fdn3, readUva, len(overwrite))
		require.Zero(t, rerr)
		require.Equal(t, len(overwrite), rn)

		as.Lock_pmap()
		for i := range overwrite {
			buf, gerr := sys.Vm.Userdmap8Inner(as, readUva+i, false)
			require.Zero(t, gerr)
			require.Equal(t, overwrite[i], buf[0])
		}
		as.Unlock_pmap()

		require.Zero(t, Close(p, fdn3))
	})
}

// newProcForSyscallTest builds a minimal proc.Proc_t this package's tests
// can drive without going through a full exec(): a thin wrapper is
// unnecessary since proc.Proc_t's console-backed fd table and AddFd/GetFd
// are already exported; this helper just fills in the fields Execute
// would otherwise set.
func newProcForSyscallTest(sc *sched.Sched_t, vsys *vm.System_t, mt *sched.Thread_t) *proc.Proc_t {
	return proc.NewBareProc("test", sc, vsys, mt)
}
