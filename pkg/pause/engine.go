//go:build linux && (amd64 || arm64)

// Package pause implements the tracee's side of the pause protocol. At a pause
// point the tracee announces itself, then applies tracer commands one at a
// time until it is told to continue.
package pause

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
)

// State is the engine's position in the pause protocol.
type State int32

const (
	// Running means the tracee is executing its own code.
	Running State = iota
	// Paused means the tracee is waiting for the next command.
	Paused
	// Dispatching means a command has been read and is being applied.
	Dispatching
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Dispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Engine reads tracer commands from the command channel and applies them.
type Engine struct {
	commands   *protocol.Reader
	store      *snapshot.Store
	kernel     Kernel
	announcer  Announcer
	log        *slog.Logger
	state      State
	dispatches uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithKernel replaces the system call layer used to apply commands.
func WithKernel(k Kernel) Option {
	return func(e *Engine) {
		e.kernel = k
	}
}

// WithAnnouncer sets how a pause is announced. The default is SignalAnnouncer.
func WithAnnouncer(a Announcer) Option {
	return func(e *Engine) {
		e.announcer = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// NewEngine returns an engine reading commands from commands and keeping
// clock values in store.
func NewEngine(commands *protocol.Reader, store *snapshot.Store, opts ...Option) *Engine {
	e := &Engine{
		commands:  commands,
		store:     store,
		kernel:    RawKernel,
		announcer: SignalAnnouncer,
		log:       slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// Dispatches returns the number of commands applied so far, CONTINUE excluded.
func (e *Engine) Dispatches() uint64 { return e.dispatches }

// Pause announces a pause point and blocks, applying commands, until the
// tracer sends CONTINUE. Any protocol violation is fatal.
func (e *Engine) Pause() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if e.state != Running {
		fatal.Failf("pause requested while %s", e.state)
	}
	e.state = Paused
	e.log.Debug("paused", "dispatches", e.dispatches)
	e.announcer.Announce()

	for !e.Step() {
	}
	e.log.Debug("resumed", "dispatches", e.dispatches)
}

// Step reads and applies exactly one command. It reports true once the tracer
// has sent CONTINUE, leaving the engine running.
func (e *Engine) Step() bool {
	cmd := e.commands.Command()
	if cmd == protocol.CmdContinue {
		e.state = Running
		return true
	}

	e.state = Dispatching
	e.dispatch(cmd)
	e.dispatches++
	e.state = Paused
	return false
}

func (e *Engine) dispatch(cmd protocol.Wrapper2AppCmd) {
	r := e.commands
	switch cmd {
	case protocol.CmdSetHeap:
		e.setHeap(r.Pointer("heap pointer"))

	case protocol.CmdOpen:
		name := r.String("file name")
		fd := r.Int32("target descriptor")
		flags := r.Int32("open flags")
		seek := r.Uint64("seek position")
		e.open(name, int(fd), int(flags), seek)

	case protocol.CmdClose:
		fd := r.Int32("descriptor")
		if err := e.kernel.Close(int(fd)); err != nil {
			fatal.Failf("could not close fd %d: %v", fd, err)
		}
		e.log.Debug("closed", "fd", fd)

	case protocol.CmdSetClock:
		clock := r.Int32("clock type")
		sec := r.Uint64("seconds")
		nsec := r.Uint64("nanoseconds")
		e.setClock(clock, sec, nsec)

	case protocol.CmdSetTime:
		ts := r.Uint64("timestamp")
		e.store.State().Clocks.Timestamp = int64(ts)
		e.log.Debug("time set", "timestamp", ts)

	default:
		fatal.Failf("unknown command %d", int32(cmd))
	}
}

// setHeap moves the program break. The kernel may round the break up but
// never down; anything below the requested address means the move failed.
func (e *Engine) setHeap(ptr uintptr) {
	brk := e.kernel.Brk(ptr)
	if brk < ptr {
		fatal.Failf("could not move program break to %#x (break is %#x)", ptr, brk)
	}
	e.log.Debug("heap set", "requested", fmt.Sprintf("%#x", ptr), "break", fmt.Sprintf("%#x", brk))
}

// open installs name on exactly fd. The file is opened on whatever descriptor
// the kernel picks, moved to fd and positioned at seek.
func (e *Engine) open(name string, fd, flags int, seek uint64) {
	tmp, err := e.kernel.Open(name, flags)
	if err != nil {
		fatal.Failf("could not open %q: %v", name, err)
	}
	if tmp != fd {
		if err := e.kernel.Dup2(tmp, fd); err != nil {
			fatal.Failf("could not move fd %d to %d: %v", tmp, fd, err)
		}
		if err := e.kernel.Close(tmp); err != nil {
			fatal.Failf("could not close temporary fd %d: %v", tmp, err)
		}
	}

	pos, err := e.kernel.Lseek(fd, int64(seek), unix.SEEK_SET)
	if err != nil || uint64(pos) != seek {
		fatal.Failf("could not seek fd %d to %d (got %d, err %v)", fd, seek, pos, err)
	}
	e.log.Debug("opened", "path", name, "fd", fd, "flags", flags, "seek", seek)
}

func (e *Engine) setClock(clock int32, sec, nsec uint64) {
	ts := unix.Timespec{Sec: int64(sec), Nsec: int64(nsec)}
	clocks := &e.store.State().Clocks
	switch clock {
	case protocol.ClockRealtime:
		clocks.Realtime = ts
	case protocol.ClockMonotonic:
		clocks.Monotonic = ts
	default:
		fatal.Failf("unknown clock type %d", clock)
	}
	e.log.Debug("clock set", "clock", clock, "sec", sec, "nsec", nsec)
}
