// Package console implements the two always-open file descriptors every
// process starts with (fd 0 and fd 1), backed by the kernel's own stdin
// and stdout. A real serial/VGA console driver is out of scope (spec.md
// §1 excludes device drivers); this package gives the syscall boundary
// and the process fd table something concrete to point fd 0/1 at.
package console

import (
	"bufio"
	"io"
	"os"
	"sync"

	"minikernel/internal/defs"
	"minikernel/internal/fdops"
	"minikernel/internal/util"
)

var (
	stdin     = bufio.NewReader(os.Stdin)
	stdinOnce sync.Mutex

	// stdout is a var, not a direct os.Stdout reference, so tests can swap
	// in a recorder and observe Write's chunking behavior.
	stdout io.Writer = os.Stdout
)

// Cons_t implements fdops.Fdops_i for both the read side (fd 0) and the
// write side (fd 1); Reader is false for a write-only instance.
type Cons_t struct {
	Reader bool
}

func (c *Cons_t) Close() defs.Err_t { return 0 }

func (c *Cons_t) Reopen() defs.Err_t { return 0 }

func (c *Cons_t) Seek(off int, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (c *Cons_t) Fstat(st *fdops.Stat_i) defs.Err_t {
	if st != nil {
		(*st).Wmode(0)
	}
	return 0
}

// Read copies console input one byte at a time into dst, stopping at a
// newline or when dst is full, mirroring the line-buffered behavior a
// teletype console gives a blocking read (§4.10's console read/write
// path through the syscall boundary).
func (c *Cons_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !c.Reader {
		return 0, -defs.EINVAL
	}
	stdinOnce.Lock()
	defer stdinOnce.Unlock()

	total := 0
	for dst.Remain() > 0 {
		b, err := stdin.ReadByte()
		if err != nil {
			break
		}
		n, werr := dst.Uiowrite([]byte{b})
		if werr != 0 {
			return total, werr
		}
		total += n
		if b == '\n' {
			break
		}
	}
	return total, 0
}

// Write copies src to stdout in 256-byte puts, exactly as spec.md states
// (§4.10: writes to fd 1 are broken into 256-byte console puts).
func (c *Cons_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	const chunk = 256
	total := 0
	buf := make([]byte, chunk)
	for src.Remain() > 0 {
		want := util.Min(chunk, src.Remain())
		n, err := src.Uioread(buf[:want])
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
		if _, werr := stdout.Write(buf[:n]); werr != nil {
			return total, -defs.EIO
		}
		total += n
	}
	return total, 0
}
