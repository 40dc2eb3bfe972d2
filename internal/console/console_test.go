package console

import (
	"testing"

	"minikernel/internal/vm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter records the length of every Write call it sees, so a
// test can assert on the chunk boundaries Cons_t.Write puts to stdout in.
type recordingWriter struct {
	chunks []int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.chunks = append(w.chunks, len(p))
	return len(p), nil
}

func TestConsoleWriteChunksAt256Bytes(t *testing.T) {
	rec := &recordingWriter{}
	old := stdout
	stdout = rec
	defer func() { stdout = old }()

	c := &Cons_t{Reader: false}
	buf := make([]byte, 300)
	var fb vm.Fakeubuf_t
	fb.Fake_init(buf)

	n, err := c.Write(&fb)
	require.Zero(t, err)
	assert.Equal(t, 300, n)
	require.Equal(t, []int{256, 44}, rec.chunks, "a 300-byte write must split into a 256-byte put and a 44-byte remainder")
}

func TestConsoleWriteExactMultipleOfChunkSize(t *testing.T) {
	rec := &recordingWriter{}
	old := stdout
	stdout = rec
	defer func() { stdout = old }()

	c := &Cons_t{Reader: false}
	buf := make([]byte, 512)
	var fb vm.Fakeubuf_t
	fb.Fake_init(buf)

	n, err := c.Write(&fb)
	require.Zero(t, err)
	assert.Equal(t, 512, n)
	assert.Equal(t, []int{256, 256}, rec.chunks)
}
