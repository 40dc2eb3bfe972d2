package fs

import (
	"sync"

	"minikernel/internal/defs"
	"minikernel/internal/fdops"
	"minikernel/internal/util"
)

// FileMeta_t is one file's directory entry: its sector range in the
// backing Cache_t and its current byte length. Hierarchical
// directories and a real on-disk inode layout are out of scope (§1);
// FsTable_t is the flat, name-keyed stand-in the syscall boundary's
// open/create/remove need to have something concrete to dispatch to.
type FileMeta_t struct {
	mu        sync.Mutex
	Name      string
	FirstSect uint32
	NSectors  uint32
	Size      int
	refs      int
}

// FsTable_t is the whole (flat) file namespace plus the sector
// allocator backing every file's data, layered directly on Cache_t so
// every read/write exercises the buffer cache (§4.6).
type FsTable_t struct {
	mu        sync.Mutex
	cache     *Cache_t
	byName    map[string]*FileMeta_t
	nextSect  uint32
	sectsUsed int
}

// NewFsTable allocates an empty namespace over cache, reserving sector 0
// (conventionally the root/superblock sector in a real file system).
func NewFsTable(cache *Cache_t) *FsTable_t {
	return &FsTable_t{
		cache:    cache,
		byName:   make(map[string]*FileMeta_t),
		nextSect: 1,
	}
}

// Create makes an empty file named name, failing with -EEXIST if it
// already exists.
func (tb *FsTable_t) Create(name string) defs.Err_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if _, ok := tb.byName[name]; ok {
		return -defs.EEXIST
	}
	tb.byName[name] = &FileMeta_t{Name: name, FirstSect: tb.nextSect}
	tb.nextSect += 16 // reserve a modest fixed extent; grown lazily on write
	return 0
}

// Remove unlinks name. Descriptors already open on the file keep working
// through their own reference to its metadata (the way the original's
// filesys_remove leaves an open-but-unlinked inode usable); the file's
// sectors are not handed out again, even after its last fd closes.
func (tb *FsTable_t) Remove(name string) defs.Err_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	meta, ok := tb.byName[name]
	if !ok {
		return -defs.ENOENT
	}
	delete(tb.byName, name)
	_ = meta
	return 0
}

// Open returns a file descriptor backing object for name, or -ENOENT.
func (tb *FsTable_t) Open(name string) (*File_t, defs.Err_t) {
	tb.mu.Lock()
	meta, ok := tb.byName[name]
	if ok {
		meta.mu.Lock()
		meta.refs++
		meta.mu.Unlock()
	}
	tb.mu.Unlock()
	if !ok {
		return nil, -defs.ENOENT
	}
	return &File_t{tb: tb, meta: meta}, 0
}

// sectorAt returns the absolute sector number for byte offset off within
// meta's file, growing its reserved extent if the write runs past it.
func (tb *FsTable_t) sectorAt(meta *FileMeta_t, off int) (uint32, defs.Err_t) {
	idx := uint32(off / SectorSize)
	if idx >= meta.NSectors {
		meta.NSectors = idx + 1
	}
	return meta.FirstSect + idx, 0
}

// File_t is an open regular file (§4.6/§4.9): reads and writes go
// through the shared FsTable_t's Cache_t, so two descriptors on the
// same file observe each other's writes immediately, same as a real
// buffer-cache-backed inode.
type File_t struct {
	tb   *FsTable_t
	meta *FileMeta_t
	off  int
}

func (f *File_t) Close() defs.Err_t {
	f.meta.mu.Lock()
	f.meta.refs--
	f.meta.mu.Unlock()
	return 0
}

func (f *File_t) Reopen() defs.Err_t {
	f.meta.mu.Lock()
	f.meta.refs++
	f.meta.mu.Unlock()
	return 0
}

func (f *File_t) Fstat(st *fdops.Stat_i) defs.Err_t {
	if st != nil {
		f.meta.mu.Lock()
		(*st).Wsize(uint(f.meta.Size))
		f.meta.mu.Unlock()
	}
	return 0
}

func (f *File_t) Seek(off int, whence int) (int, defs.Err_t) {
	switch whence {
	case 0:
		f.off = off
	case 1:
		f.off += off
	case 2:
		f.meta.mu.Lock()
		f.off = f.meta.Size + off
		f.meta.mu.Unlock()
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
	}
	return f.off, 0
}

// Read implements fdops.Fdops_i.Read by copying sector-at-a-time through
// the cache into dst, advancing f.off.
func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.meta.mu.Lock()
	size := f.meta.Size
	f.meta.mu.Unlock()

	total := 0
	for dst.Remain() > 0 && f.off < size {
		sect, err := f.tb.sectorAt(f.meta, f.off)
		if err != 0 {
			return total, err
		}
		sectOff := f.off % SectorSize
		want := util.Min(SectorSize-sectOff, util.Min(size-f.off, dst.Remain()))
		buf := make([]byte, want)
		if _, err := f.tb.cache.Read(sect, sectOff, buf, want); err != 0 {
			return total, err
		}
		n, werr := dst.Uiowrite(buf)
		if werr != 0 {
			return total, werr
		}
		f.off += n
		total += n
		if n == 0 {
			break
		}
	}
	return total, 0
}

// Write implements fdops.Fdops_i.Write, extending the file's recorded
// size as it writes past the current end (§4.9's "file grows on write").
func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	total := 0
	for src.Remain() > 0 {
		sect, err := f.tb.sectorAt(f.meta, f.off)
		if err != 0 {
			return total, err
		}
		sectOff := f.off % SectorSize
		want := util.Min(SectorSize-sectOff, src.Remain())
		buf := make([]byte, want)
		n, rerr := src.Uioread(buf)
		if rerr != 0 {
			return total, rerr
		}
		if n == 0 {
			break
		}
		fill := sectOff != 0 || n != SectorSize
		if _, werr := f.tb.cache.Write(sect, sectOff, buf[:n], n, fill); werr != 0 {
			return total, werr
		}
		f.off += n
		total += n

		f.meta.mu.Lock()
		if f.off > f.meta.Size {
			f.meta.Size = f.off
		}
		f.meta.mu.Unlock()
	}
	return total, 0
}
