//go:build linux

// Package rawsys issues the system calls the agent's control path depends on.
//
// Nothing here goes through os.File, bufio or any other runtime-managed I/O
// state: the hosted program may have left those in any condition, including
// halfway through its own abort sequence. Every wrapper returns the raw result
// and leaves failure handling to the caller.
package rawsys

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Read reads up to len(buf) bytes from fd with a single read(2).
func Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// Write writes buf to fd with a single write(2).
func Write(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// ReadExact performs one read and reports whether it filled buf completely.
// A short read is never retried; the protocol treats it as desynchronization.
func ReadExact(fd int, buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	n, err := unix.Read(fd, buf)
	return err == nil && n == len(buf)
}

// WriteExact performs one write and reports whether all of buf was accepted.
func WriteExact(fd int, buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	n, err := unix.Write(fd, buf)
	return err == nil && n == len(buf)
}

// Open opens path with the given flags. No mode is passed, matching open(2)
// called without O_CREAT.
func Open(path string, flags int) (int, error) {
	return unix.Open(path, flags, 0)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// Dup2 duplicates oldfd onto newfd. It is built on dup3, the only variant
// arm64 provides; like dup2, equal descriptors only check that oldfd is valid.
func Dup2(oldfd, newfd int) error {
	if oldfd == newfd {
		_, err := unix.FcntlInt(uintptr(oldfd), unix.F_GETFD, 0)
		return err
	}
	return unix.Dup3(oldfd, newfd, 0)
}

// Lseek repositions fd and returns the resulting offset.
func Lseek(fd int, offset int64, whence int) (int64, error) {
	return unix.Seek(fd, offset, whence)
}

// Brk asks the kernel to move the program break to addr and returns the break
// it actually set. The kernel reports failure by returning the old break, not
// an errno, so callers compare the result against what they asked for.
func Brk(addr uintptr) uintptr {
	r, _, _ := unix.RawSyscall(unix.SYS_BRK, addr, 0, 0)
	return r
}

// Mmap maps an anonymous private read/write region of the given length.
func Mmap(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

// Munmap releases a region obtained from Mmap.
func Munmap(region []byte) error {
	return unix.Munmap(region)
}

// Gettid returns the calling thread's id.
func Gettid() int {
	return unix.Gettid()
}

// Tkill sends sig to the calling thread.
func Tkill(sig syscall.Signal) error {
	return unix.Tgkill(unix.Getpid(), unix.Gettid(), sig)
}

// BlockAllSignals blocks every signal on the calling thread and returns the
// previous mask for RestoreSignals. The caller must hold its OS thread
// (runtime.LockOSThread) until the mask is restored.
func BlockAllSignals() (unix.Sigset_t, error) {
	var all, old unix.Sigset_t
	for i := range all.Val {
		all.Val[i] = ^all.Val[i]
	}
	err := unix.PthreadSigmask(unix.SIG_BLOCK, &all, &old)
	return old, err
}

// RestoreSignals reinstates a mask returned by BlockAllSignals.
func RestoreSignals(old unix.Sigset_t) error {
	return unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
}

// Raise delivers sig to the calling thread the way musl's raise does: all
// signals are blocked while the thread id is resolved and the signal queued,
// and the old mask is restored afterwards so the signal lands on this thread.
func Raise(sig syscall.Signal) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	old, err := BlockAllSignals()
	if err != nil {
		return err
	}
	kerr := unix.Tgkill(unix.Getpid(), unix.Gettid(), sig)
	if err := RestoreSignals(old); err != nil {
		return err
	}
	return kerr
}

// FDWriter is an io.Writer over a raw descriptor. It performs one write per
// call and never buffers.
type FDWriter int

// Stderr writes to descriptor 2.
const Stderr FDWriter = 2

// Write implements io.Writer.
func (w FDWriter) Write(p []byte) (int, error) {
	return unix.Write(int(w), p)
}

// Addr returns the address of the first byte of region, or 0 for an empty one.
func Addr(region []byte) uintptr {
	if len(region) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&region[0]))
}
