// Package bounds names the call sites that loop an unbounded number of
// times over user-controlled input (copying a buffer page by page, walking
// an iovec, ...). Each named site has an estimated per-iteration kernel
// heap cost; res uses that estimate to refuse to keep looping once the
// kernel's heap reservation for the current syscall is exhausted, rather
// than let a malicious or buggy user program drive unbounded kernel
// allocation.
package bounds

// Bkey_t identifies a bounded loop call site.
type Bkey_t int

const (
	B_ASPACE_T_K2USER_INNER Bkey_t = iota
	B_ASPACE_T_USER2K_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	_bkey_count
)

// perIterBytes is the kernel-heap cost charged for one pass through the
// named loop. These are conservative round numbers, not measurements.
var perIterBytes = [_bkey_count]uint{
	B_ASPACE_T_K2USER_INNER: 64,
	B_ASPACE_T_USER2K_INNER: 64,
	B_USERBUF_T__TX:         64,
	B_USERIOVEC_T_IOV_INIT:  128,
	B_USERIOVEC_T__TX:       64,
}

// Bounds returns the reservation to request for one more iteration of the
// named loop.
func Bounds(k Bkey_t) uint {
	return perIterBytes[k]
}
