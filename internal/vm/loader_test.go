package vm

import (
	"reflect"
	"testing"

	"minikernel/internal/defs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallSegmentsMapsPageAlignedRangesWithZeroFillTail(t *testing.T) {
	sys := newTestSystem(t, 8, 8)
	as := NewVm_tForTest()

	file := &memFile{data: []byte("\x7fELFcodecodecode")}
	exe := &Executable_t{
		File:  file,
		Entry: 0,
		Segments: []Segment{
			// text: starts mid-page, Memsz extends past Filesz so the tail
			// must zero-fill (§4.5).
			{Vaddr: 16, FileOff: 0, Filesz: len(file.data), Memsz: len(file.data) + 32, Writable: false, Executable: true},
		},
	}

	as.Lock_pmap()
	require.Zero(t, InstallSegments(sys, as, exe))
	as.Unlock_pmap()

	require.Equal(t, 1, len(as.Region.list))
	vmi := as.Region.list[0]
	assert.Equal(t, uintptr(0), vmi.Start, "segment VMA must start on a page boundary")
	assert.Equal(t, KindLoad, vmi.Kind)
	assert.Equal(t, reflect.ValueOf(AbsentLoad).Pointer(), reflect.ValueOf(vmi.Absent).Pointer())
	assert.True(t, vmi.Perm&PermExecutable != 0)
	assert.False(t, vmi.Perm&PermWrite != 0)

	// HandleFault takes the pmap lock itself
	err := sys.HandleFault(as, 0, 0, false, true)
	require.Zero(t, err)
	as.Lock_pmap()
	buf, err := sys.Userdmap8Inner(as, 16, false)
	require.Zero(t, err)
	as.Unlock_pmap()
	assert.Equal(t, []byte("\x7fELF"), buf[:4], "file bytes must land at their Vaddr offset within the page")
}

func TestInstallSegmentsRejectsOverlappingSegments(t *testing.T) {
	sys := newTestSystem(t, 8, 8)
	as := NewVm_tForTest()

	file := &memFile{data: []byte("x")}
	exe := &Executable_t{
		File: file,
		Segments: []Segment{
			{Vaddr: 0, FileOff: 0, Filesz: 1, Memsz: PGSIZE, Writable: true},
			{Vaddr: PGSIZE / 2, FileOff: 0, Filesz: 1, Memsz: PGSIZE, Writable: true},
		},
	}

	as.Lock_pmap()
	defer as.Unlock_pmap()
	assert.Equal(t, -defs.EINVAL, InstallSegments(sys, as, exe))
}

func TestInstallStackPlacesOnePageBelowStackTop(t *testing.T) {
	as := NewVm_tForTest()
	stackTop := uintptr(32 * PGSIZE)

	as.Lock_pmap()
	require.Zero(t, InstallStack(as, stackTop))
	as.Unlock_pmap()

	require.NotNil(t, as.StackVMA)
	assert.Equal(t, stackTop-PGSIZE, as.StackVMA.Start)
	assert.Equal(t, stackTop, as.StackVMA.End)
	assert.Equal(t, KindStack, as.StackVMA.Kind)
	assert.Equal(t, reflect.ValueOf(AbsentStack).Pointer(), reflect.ValueOf(as.StackVMA.Absent).Pointer())
}

func TestSetupArgvStackLaysOutArgcArgvAndWordAlignedPointers(t *testing.T) {
	sys := newTestSystem(t, 8, 8)
	as := NewVm_tForTest()
	stackTop := uintptr(8 * PGSIZE)

	as.Lock_pmap()
	require.Zero(t, InstallStack(as, stackTop))

	argv := []string{"prog", "a", "bb"}
	sp, err := SetupArgvStack(sys, as, stackTop, argv)
	require.Zero(t, err)
	assert.Equal(t, uintptr(0), sp%wordSize, "returned stack pointer must be word-aligned")
	assert.Less(t, sp, stackTop)

	// Layout, bottom to top: fake return addr, argc, &argv[0], argv[0..argc-1], NULL.
	readWord := func(addr uintptr) uint64 {
		var v uint64
		for i := 0; i < wordSize; i++ {
			b, berr := sys.Userdmap8Inner(as, int(addr)+i, false)
			require.Zero(t, berr)
			v |= uint64(b[0]) << (8 * i)
		}
		return v
	}

	retAddr := sp
	assert.Equal(t, uint64(0), readWord(retAddr), "fake return address must be zero")

	argcAddr := retAddr + wordSize
	assert.Equal(t, uint64(len(argv)), readWord(argcAddr))

	argvPtrAddr := argcAddr + wordSize
	argvBase := uintptr(readWord(argvPtrAddr))

	nullSlot := readWord(argvBase + uintptr(len(argv))*wordSize)
	assert.Equal(t, uint64(0), nullSlot, "argv[argc] must be NULL")

	for i, want := range argv {
		ptr := uintptr(readWord(argvBase + uintptr(i)*wordSize))
		got := make([]byte, len(want))
		for j := range got {
			b, berr := sys.Userdmap8Inner(as, int(ptr)+j, false)
			require.Zero(t, berr)
			got[j] = b[0]
		}
		assert.Equal(t, want, string(got), "argv[%d] string must round-trip", i)
	}
	as.Unlock_pmap()
}
