package vm

import (
	"testing"

	"minikernel/internal/mem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameTablePushPullRingInvariant(t *testing.T) {
	ft := NewFrameTable(4)
	for i := 0; i < 4; i++ {
		require.True(t, ft.Push(FrameEntry_t{Frame: mem.Pa_t(i + 1), Upage: uintptr(i) * PGSIZE}))
		assert.True(t, ft.checkRing())
	}
	assert.False(t, ft.Push(FrameEntry_t{Frame: 99}), "table at capacity must reject Push")

	e, ok := ft.Pull(func(e *FrameEntry_t) bool { return e.Frame == 2 })
	require.True(t, ok)
	assert.EqualValues(t, 2, e.Frame)
	assert.True(t, ft.checkRing())
	assert.Equal(t, 3, ft.Len())
}

func TestSecondChanceClearsAccessedBeforeEvicting(t *testing.T) {
	ft := NewFrameTable(3)
	ft.Push(FrameEntry_t{Frame: 1, Flags: FrameAccessed})
	ft.Push(FrameEntry_t{Frame: 2, Flags: FrameAccessed})
	ft.Push(FrameEntry_t{Frame: 3})

	victim, ok := ft.Pull(secondChanceSelect)
	require.True(t, ok)
	assert.EqualValues(t, 3, victim.Frame, "first entry with ACCESSED already clear is evicted")
}

func TestPinExemptsFromPull(t *testing.T) {
	ft := NewFrameTable(2)
	ft.Push(FrameEntry_t{Frame: 1})
	ft.Push(FrameEntry_t{Frame: 2})

	ft.Pin(func(e *FrameEntry_t) bool { return e.Frame == 1 })
	e, ok := ft.Pull(fifoSelect)
	require.True(t, ok)
	assert.EqualValues(t, 2, e.Frame, "pinned frame 1 must be skipped")

	ft.Unpin(func(e *FrameEntry_t) bool { return e.Frame == 1 })
	e, ok = ft.Pull(fifoSelect)
	require.True(t, ok)
	assert.EqualValues(t, 1, e.Frame)
}

func TestRemoveIfDropsMatchingEntriesOnly(t *testing.T) {
	ft := NewFrameTable(3)
	as1 := &Vm_t{PID: 1}
	as2 := &Vm_t{PID: 2}
	ft.Push(FrameEntry_t{Frame: 1, Owner: as1})
	ft.Push(FrameEntry_t{Frame: 2, Owner: as2})
	ft.Push(FrameEntry_t{Frame: 3, Owner: as1})

	removed := ft.RemoveIf(func(e *FrameEntry_t) bool { return e.Owner == as1 })
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, ft.Len())
	assert.True(t, ft.checkRing())
}
