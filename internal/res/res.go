// Package res tracks the kernel heap budget charged against a single
// syscall. A syscall handler calls Reserve once up front with a generous
// estimate; long-running copy loops (see bounds) call Resadd_noblock to
// draw against that reservation one step at a time and bail out with
// ENOHEAP instead of blocking or panicking when the estimate was wrong.
package res

import "sync/atomic"

// heapBudget is the total kernel heap, in bytes, available for in-flight
// syscalls system wide.
var heapBudget int64 = 64 << 20

// Total reports the configured system-wide heap budget.
func Total() int64 { return atomic.LoadInt64(&heapBudget) }

// SetTotal reconfigures the budget; intended for boot-time sizing and
// tests, not runtime tuning.
func SetTotal(n int64) { atomic.StoreInt64(&heapBudget, n) }

// Resadd_noblock attempts to charge n bytes against the heap budget. It
// never blocks: on insufficient budget it returns false immediately so the
// caller can unwind and return ENOHEAP.
func Resadd_noblock(n uint) bool {
	if n == 0 {
		return true
	}
	for {
		cur := atomic.LoadInt64(&heapBudget)
		if cur < int64(n) {
			return false
		}
		if atomic.CompareAndSwapInt64(&heapBudget, cur, cur-int64(n)) {
			return true
		}
	}
}

// Resadd returns n bytes to the heap budget, e.g. once a bounded loop
// completes or a syscall's reservation is released on exit.
func Resadd(n uint) {
	if n == 0 {
		return
	}
	atomic.AddInt64(&heapBudget, int64(n))
}
