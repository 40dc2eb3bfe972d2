package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFreeRoundTrip(t *testing.T) {
	tb := New(NewMemDisk(8), 8)

	s := tb.Get(0)
	require.NotZero(t, s, "slot 0 is the reserved sentinel")
	assert.True(t, tb.Live(s))

	tb.Free(s)
	assert.False(t, tb.Live(s))
}

func TestReadWriteRoundTrip(t *testing.T) {
	tb := New(NewMemDisk(4), 4)
	s := tb.Get(0)

	in := make([]byte, PageSize)
	for i := range in {
		in[i] = byte(i)
	}
	tb.LockAcquire(s)
	tb.Write(s, in)
	tb.LockRelease(s)

	out := make([]byte, PageSize)
	tb.LockAcquire(s)
	tb.Read(s, out)
	tb.LockRelease(s)

	assert.Equal(t, in, out)
}

func TestGetSpreadsAllocation(t *testing.T) {
	tb := New(NewMemDisk(16), 16)
	a := tb.Get(0)
	b := tb.Get(8)
	assert.NotEqual(t, a, b)
}

func TestFreeUnallocatedPanics(t *testing.T) {
	tb := New(NewMemDisk(4), 4)
	assert.Panics(t, func() { tb.Free(Slot_t(2)) })
}
