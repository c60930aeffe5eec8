//go:build linux && (amd64 || arm64)

package pause

import (
	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
)

// Kernel is the set of process effects a command can have.
type Kernel interface {
	Brk(addr uintptr) uintptr
	Open(path string, flags int) (int, error)
	Dup2(oldfd, newfd int) error
	Close(fd int) error
	Lseek(fd int, offset int64, whence int) (int64, error)
}

type rawKernel struct{}

// RawKernel applies effects with direct system calls.
var RawKernel Kernel = rawKernel{}

func (rawKernel) Brk(addr uintptr) uintptr                 { return rawsys.Brk(addr) }
func (rawKernel) Open(path string, flags int) (int, error) { return rawsys.Open(path, flags) }
func (rawKernel) Dup2(oldfd, newfd int) error              { return rawsys.Dup2(oldfd, newfd) }
func (rawKernel) Close(fd int) error                       { return rawsys.Close(fd) }

func (rawKernel) Lseek(fd int, offset int64, whence int) (int64, error) {
	return rawsys.Lseek(fd, offset, whence)
}

// Announcer tells the tracer that the tracee has reached a pause point.
type Announcer interface {
	Announce()
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func()

// Announce calls f.
func (f AnnouncerFunc) Announce() { f() }

type signalAnnouncer struct{}

// SignalAnnouncer stops the calling thread with SIGSTOP, which a ptrace-based
// tracer observes as a signal-delivery stop.
var SignalAnnouncer Announcer = signalAnnouncer{}

func (signalAnnouncer) Announce() {
	if err := rawsys.Raise(unix.SIGSTOP); err != nil {
		fatal.Failf("could not raise SIGSTOP: %v", err)
	}
}

// NoAnnouncer announces nothing. The tracer is expected to notice the pause by
// other means, for instance because it drives the command channel directly.
var NoAnnouncer Announcer = AnnouncerFunc(func() {})
