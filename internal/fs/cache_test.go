package fs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dev := NewMemDisk()
	c := NewCache(dev, 4)

	in := make([]byte, SectorSize)
	for i := range in {
		in[i] = byte(i)
	}
	n, err := c.Write(3, 0, in, SectorSize, false)
	require.Zero(t, err)
	assert.Equal(t, SectorSize, n)

	out := make([]byte, SectorSize)
	n, err = c.Read(3, 0, out, SectorSize)
	require.Zero(t, err)
	assert.Equal(t, SectorSize, n)
	assert.Equal(t, in, out)
}

func TestOneEntryPerSector(t *testing.T) {
	dev := NewMemDisk()
	c := NewCache(dev, 4)

	buf := make([]byte, SectorSize)
	c.Read(1, 0, buf, SectorSize)
	c.Read(1, 0, buf, SectorSize)
	assert.Equal(t, 1, len(c.byIdx), "two reads of the same sector must share one entry")
}

func TestEvictionWritesBackDirtySector(t *testing.T) {
	dev := NewMemDisk()
	c := NewCache(dev, 1)

	payload := make([]byte, SectorSize)
	payload[0] = 0xAB
	c.Write(10, 0, payload, SectorSize, false)

	buf := make([]byte, SectorSize)
	c.Read(20, 0, buf, SectorSize) // only one slot: forces eviction of sector 10

	dev.mu.Lock()
	saved, ok := dev.sectors[10]
	dev.mu.Unlock()
	require.True(t, ok, "dirty sector must be written back on eviction")
	assert.Equal(t, byte(0xAB), saved[0])
}

func TestWritebackDaemonClearsDirtyEntries(t *testing.T) {
	dev := NewMemDisk()
	c := NewCache(dev, 4)

	payload := make([]byte, SectorSize)
	payload[0] = 0x7
	c.Write(5, 0, payload, SectorSize, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.WritebackDaemon(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		s, ok := dev.sectors[5]
		return ok && s[0] == 0x7
	}, time.Second, 5*time.Millisecond)
}

func TestReadAheadDaemonPopulatesCache(t *testing.T) {
	dev := NewMemDisk()
	c := NewCache(dev, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.ReadAheadDaemon(ctx)

	c.RequestReadahead(7)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, ok := c.byIdx[7]
		return ok
	}, time.Second, 5*time.Millisecond)
}
