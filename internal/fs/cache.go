// Package fs implements the on-disk file system's buffer cache (§4.6):
// a fixed-capacity, block-sized sector cache with clock eviction,
// per-slot reader/writer sharing, and background write-behind and
// read-ahead daemons. Directory/inode layout itself is out of scope
// (spec.md §1); this package only implements the cache every higher
// file-system operation reads and writes sectors through.
package fs

import (
	"context"
	"sync"
	"time"

	"minikernel/internal/defs"
	"minikernel/internal/klog"
)

var log = klog.Subsys("fs")

// SectorSize is the block device's fixed sector size (§6: "512-byte
// sectors").
const SectorSize = 512

// cachePermits is the per-slot sharing semaphore's full capacity: up to
// 15 concurrent readers/writers, or one evictor holding all 16 (§4.6).
const cachePermits = 16

// BlockDevice_i is the disk the cache reads through and writes behind to.
// A real block driver is out of scope (spec.md §1); cmd/kernel wires a
// simulated one for boot and tests use an in-memory stand-in.
type BlockDevice_i interface {
	ReadSector(sector uint32, buf []byte)
	WriteSector(sector uint32, buf []byte)
}

// shareSem is the cache entry's reader/writer sharing semaphore: a plain
// counting semaphore, not sched.Semaphore_t — nothing in §4.6 orders
// cache waiters by priority the way §4.7's ready queue and §4.8's lock
// waiters are, so this stays a freestanding primitive instead of pulling
// in the scheduler's thread/dispatch machinery.
type shareSem struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func newShareSem(n int) *shareSem {
	s := &shareSem{n: n}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *shareSem) Down() {
	s.mu.Lock()
	for s.n == 0 {
		s.cond.Wait()
	}
	s.n--
	s.mu.Unlock()
}

// TryDown takes a permit without blocking, returning false if none are
// available.
func (s *shareSem) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return false
	}
	s.n--
	return true
}

func (s *shareSem) UpN(k int) {
	s.mu.Lock()
	s.n += k
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *shareSem) Up() { s.UpN(1) }

// cacheFlag records per-entry state the clock evictor and the daemons
// both consult.
type cacheFlag uint32

const (
	flagPresent cacheFlag = 1 << iota
	flagAccessed
	flagDirty
	flagPinned
)

type cacheEntry struct {
	Sector uint32
	Data   [SectorSize]byte
	Flags  cacheFlag
	Sem    *shareSem
}

type cacheNode struct {
	cacheEntry
	prev, next int
}

const none = -1

// Cache_t is the buffer cache (§4.6): a fixed arena of SectorSize-byte
// slots threaded into two circular lists (empty and clock) — the same
// arena+index pattern vm.FrameTable_t uses for its circular list — plus
// a hash table indexing resident slots by sector number.
type Cache_t struct {
	mu    sync.Mutex
	nodes []cacheNode
	byIdx map[uint32]int // sector -> node index, resident entries only

	emptyHead int
	clockHand int
	clockLen  int

	dev BlockDevice_i

	readaheadReq  chan uint32
	readaheadFree chan struct{}
}

// NewCache allocates a cache with room for capacity sectors (64 per
// spec.md §4.6) backed by dev.
func NewCache(dev BlockDevice_i, capacity int) *Cache_t {
	c := &Cache_t{
		nodes:         make([]cacheNode, capacity),
		byIdx:         make(map[uint32]int, capacity),
		clockHand:     none,
		dev:           dev,
		readaheadReq:  make(chan uint32),
		readaheadFree: make(chan struct{}, 1),
	}
	c.readaheadFree <- struct{}{}
	for i := range c.nodes {
		c.nodes[i].Sem = newShareSem(0)
		if i == capacity-1 {
			c.nodes[i].next = none
		} else {
			c.nodes[i].next = i + 1
		}
	}
	c.emptyHead = 0
	if capacity == 0 {
		c.emptyHead = none
	}
	return c
}

func (c *Cache_t) linkClockLocked(idx int) {
	if c.clockLen == 0 {
		c.nodes[idx].prev = idx
		c.nodes[idx].next = idx
		c.clockHand = idx
	} else {
		prev := c.nodes[c.clockHand].prev
		c.nodes[idx].prev = prev
		c.nodes[idx].next = c.clockHand
		c.nodes[prev].next = idx
		c.nodes[c.clockHand].prev = idx
	}
	c.clockLen++
}

func (c *Cache_t) unlinkClockLocked(idx int) {
	n := &c.nodes[idx]
	if c.clockLen == 1 {
		c.clockHand = none
	} else {
		c.nodes[n.prev].next = n.next
		c.nodes[n.next].prev = n.prev
		if c.clockHand == idx {
			c.clockHand = n.next
		}
	}
	c.clockLen--
}

func (c *Cache_t) scanClockLocked(accept func(e *cacheEntry) bool) int {
	if c.clockLen == 0 {
		return none
	}
	cur := c.clockHand
	for i := 0; i < c.clockLen; i++ {
		n := &c.nodes[cur]
		if n.Flags&flagPinned == 0 && accept(&n.cacheEntry) {
			return cur
		}
		cur = n.next
	}
	return none
}

// evictLocked runs the three-pass clock (§4.6), unlinks the chosen entry,
// drains all 16 of its sharing permits (blocking behind any in-flight
// access, hence the lock is released and reacquired around the drain),
// and writes its contents back if dirty. Returns the now-free node index.
func (c *Cache_t) evictLocked() int {
	passes := []func(e *cacheEntry) bool{
		func(e *cacheEntry) bool { return e.Flags&flagDirty == 0 && e.Flags&flagAccessed == 0 },
		func(e *cacheEntry) bool { return e.Flags&flagDirty == 0 },
		func(e *cacheEntry) bool { return e.Flags&flagAccessed == 0 },
	}
	idx := none
	for _, accept := range passes {
		if idx = c.scanClockLocked(accept); idx != none {
			break
		}
	}
	if idx == none {
		idx = c.clockHand // fallback: current hand position
	}

	sector := c.nodes[idx].Sector
	dirty := c.nodes[idx].Flags&flagDirty != 0
	delete(c.byIdx, sector)
	c.unlinkClockLocked(idx)

	sem := c.nodes[idx].Sem
	c.mu.Unlock()
	for i := 0; i < cachePermits; i++ {
		sem.Down()
	}
	if dirty {
		c.dev.WriteSector(sector, c.nodes[idx].Data[:])
	}
	c.mu.Lock()
	return idx
}

// loadKind selects how a newly-acquired slot's contents are populated.
type loadKind int

const (
	loadFromDisk loadKind = iota
	loadZero
)

// acquireSlot finds or creates the slot for sector and ensures it is
// populated, returning the node index with exactly one sharing permit
// held by the caller (§4.6 steps 1-3).
func (c *Cache_t) acquireSlot(sector uint32, kind loadKind) int {
	c.mu.Lock()
	var idx int
	var firstUse bool
	if i, ok := c.byIdx[sector]; ok {
		idx = i
	} else {
		if c.emptyHead != none {
			idx = c.emptyHead
			c.emptyHead = c.nodes[idx].next
		} else {
			idx = c.evictLocked()
		}
		c.nodes[idx].Sector = sector
		c.nodes[idx].Flags = 0
		c.nodes[idx].Sem = newShareSem(0)
		c.linkClockLocked(idx)
		c.byIdx[sector] = idx
		firstUse = true
	}
	c.mu.Unlock()

	if !firstUse {
		c.nodes[idx].Sem.Down()
		return idx
	}

	switch kind {
	case loadFromDisk:
		c.dev.ReadSector(sector, c.nodes[idx].Data[:])
	case loadZero:
		for i := range c.nodes[idx].Data {
			c.nodes[idx].Data[i] = 0
		}
	}
	c.mu.Lock()
	c.nodes[idx].Flags |= flagPresent
	c.mu.Unlock()
	c.nodes[idx].Sem.UpN(cachePermits - 1) // release 15, keep one for this caller
	return idx
}

// Read implements §4.6's read(sector, offset, dest, len).
func (c *Cache_t) Read(sector uint32, offset int, dest []byte, length int) (int, defs.Err_t) {
	idx := c.acquireSlot(sector, loadFromDisk)
	c.mu.Lock()
	n := &c.nodes[idx]
	n.Flags |= flagAccessed
	cnt := copy(dest[:length], n.Data[offset:offset+length])
	c.mu.Unlock()
	c.nodes[idx].Sem.Up()
	return cnt, 0
}

// Write implements §4.6's write(sector, offset, src, len, fill_from_disk).
// When fillFromDisk is false and the write covers the whole sector, pass
// length == SectorSize and offset == 0; a first-use slot is then
// zero-filled instead of read from disk.
func (c *Cache_t) Write(sector uint32, offset int, src []byte, length int, fillFromDisk bool) (int, defs.Err_t) {
	kind := loadZero
	if fillFromDisk {
		kind = loadFromDisk
	}
	idx := c.acquireSlot(sector, kind)
	c.mu.Lock()
	n := &c.nodes[idx]
	n.Flags |= flagAccessed | flagDirty
	cnt := copy(n.Data[offset:offset+length], src[:length])
	c.mu.Unlock()
	c.nodes[idx].Sem.Up()
	return cnt, 0
}

// WritebackDaemon sweeps the clock list every tick (approximated here by
// a fixed interval rather than the real timer), flushing dirty entries
// it can acquire exclusively without blocking and clearing ACCESSED on
// every entry it visits (the clock policy's second-chance sweep). It
// runs until ctx is cancelled.
func (c *Cache_t) WritebackDaemon(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.writebackSweep()
		}
	}
}

func (c *Cache_t) writebackSweep() {
	c.mu.Lock()
	indices := make([]int, 0, c.clockLen)
	cur := c.clockHand
	for i := 0; i < c.clockLen; i++ {
		indices = append(indices, cur)
		cur = c.nodes[cur].next
	}
	c.mu.Unlock()

	for _, idx := range indices {
		sem := c.nodes[idx].Sem
		got := 0
		for ; got < cachePermits; got++ {
			if !sem.TryDown() {
				break
			}
		}
		if got < cachePermits {
			sem.UpN(got)
			c.mu.Lock()
			c.nodes[idx].Flags &^= flagAccessed
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		dirty := c.nodes[idx].Flags&flagDirty != 0
		sector := c.nodes[idx].Sector
		c.mu.Unlock()
		if dirty {
			c.dev.WriteSector(sector, c.nodes[idx].Data[:])
			c.mu.Lock()
			c.nodes[idx].Flags &^= flagDirty | flagAccessed
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			c.nodes[idx].Flags &^= flagAccessed
			c.mu.Unlock()
		}
		sem.UpN(cachePermits)
	}
}

// RequestReadahead is the producer side of §4.6's read-ahead handoff: it
// publishes sector to the consumer daemon, blocking until the single
// in-flight slot is free.
func (c *Cache_t) RequestReadahead(sector uint32) {
	<-c.readaheadFree
	c.readaheadReq <- sector
}

// ReadAheadDaemon is the consumer side: for each requested sector it
// performs a zero-length cache read (§4.6: "a zero-length cache read to
// load the sector"), which populates the cache without copying any bytes
// out, then frees the handoff slot for the next producer.
func (c *Cache_t) ReadAheadDaemon(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sector := <-c.readaheadReq:
			if _, err := c.Read(sector, 0, nil, 0); err != 0 {
				log.Warnf("read-ahead of sector %d failed: err=%d", sector, err)
			}
			c.readaheadFree <- struct{}{}
		}
	}
}
