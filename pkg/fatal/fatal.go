//go:build linux

// Package fatal is the agent's single escape hatch for protocol violations.
//
// Once the controller and the tracee disagree about the command stream there is
// no state worth preserving, so Fail reports the problem on descriptor 2 and
// kills the process with a signal sequence the hosted program cannot intercept.
package fatal

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
)

// Prefix starts every diagnostic written by Fail.
const Prefix = "lss: "

// Handler receives the diagnostic for a fatal error. A handler that returns
// does not resume the caller: Fail aborts the process afterwards.
type Handler func(msg string)

var (
	mu      sync.Mutex
	handler Handler = report
)

// Fail reports msg and terminates the process. It never returns.
func Fail(msg string) {
	mu.Lock()
	h := handler
	mu.Unlock()

	h(msg)
	Abort()
}

// Failf is Fail with fmt formatting.
func Failf(format string, args ...any) {
	Fail(fmt.Sprintf(format, args...))
}

// SetHandler installs h in place of the default report-to-stderr handler and
// returns a function restoring the previous one. Tests install a handler that
// panics so the fatal path can be observed without losing the process.
func SetHandler(h Handler) (restore func()) {
	mu.Lock()
	prev := handler
	handler = h
	mu.Unlock()

	return func() {
		mu.Lock()
		handler = prev
		mu.Unlock()
	}
}

func report(msg string) {
	line := make([]byte, 0, len(Prefix)+len(msg)+1)
	line = append(line, Prefix...)
	line = append(line, msg...)
	line = append(line, '\n')
	rawsys.Write(2, line)
}

// Abort kills the process: SIGABRT first, then SIGKILL should something have
// swallowed the abort, then a spin in case both are still pending.
func Abort() {
	rawsys.Raise(unix.SIGABRT)
	rawsys.Raise(unix.SIGKILL)
	for {
	}
}
