package defs

// Err_t is the kernel-internal errno type. A value of 0 means success;
// negative values name one of the errno constants below, mirroring how
// syscalls report failure to userspace (the sign is flipped again at the
// syscall boundary).
type Err_t int

// Errno values a syscall or internal operation may return. Names follow
// the POSIX-ish convention the rest of the kernel already assumes.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	ENOMEM       Err_t = 12
	EFAULT       Err_t = 14
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	EFBIG        Err_t = 27
	ENOSPC       Err_t = 28
	ENAMETOOLONG Err_t = 36
	ENOEXEC      Err_t = 8
	ENOHEAP      Err_t = 200 // kernel heap budget exhausted mid-syscall
)

// Tid_t identifies a thread. TID 0 is never assigned to a real thread.
type Tid_t int

// Pid_t identifies a process (the TID of its first/main thread).
type Pid_t int

// Error lets Err_t satisfy the standard error interface so it composes with
// fmt.Errorf("%w", ...) and friends at the kernel/userspace boundary.
func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	if n, ok := errnames[e]; ok {
		return n
	}
	return "unknown error"
}

var errnames = map[Err_t]string{
	EPERM:        "operation not permitted",
	ENOENT:       "no such file or directory",
	ESRCH:        "no such process",
	EINTR:        "interrupted",
	EIO:          "i/o error",
	EBADF:        "bad file descriptor",
	ECHILD:       "no child processes",
	ENOMEM:       "out of memory",
	EFAULT:       "bad address",
	EBUSY:        "resource busy",
	EEXIST:       "already exists",
	ENOTDIR:      "not a directory",
	EISDIR:       "is a directory",
	EINVAL:       "invalid argument",
	ENFILE:       "system file table full",
	EMFILE:       "too many open files",
	EFBIG:        "file too large",
	ENOSPC:       "no space left",
	ENAMETOOLONG: "name too long",
	ENOEXEC:      "exec format error",
	ENOHEAP:      "kernel heap budget exceeded",
}
