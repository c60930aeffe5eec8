//go:build linux && (amd64 || arm64)

// Package snapshot owns the tracee-side state that must survive from one pause
// to the next: the virtual clocks, the GL batching state and the windowing
// mock. It lives in one anonymous mapping so the tracer can capture it as a
// single block of memory together with the rest of the process.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
	"github.com/willibrandon/ChronoTracee/pkg/x11"
)

// Version is stamped into State.Version on first initialization. It follows
// x11.LayoutVersion, whose structures make up most of State. A restored image
// with another value was written by an incompatible agent.
const Version uint64 = x11.LayoutVersion

var (
	// ErrImageSize is returned when an image does not have the size of State.
	ErrImageSize = errors.New("snapshot image has wrong size")
	// ErrIncompatibleVersion is returned for images stamped with another version.
	ErrIncompatibleVersion = errors.New("incompatible snapshot version")
)

// Clocks are the authoritative time values handed to the tracee.
type Clocks struct {
	Realtime  unix.Timespec
	Monotonic unix.Timespec
	Timestamp int64
}

// GLState tracks the GL command batching buffer. Buffer and Capacity describe
// a mapping private to the running process; only End is meaningful across a
// restore, and it is always zero at a pause point.
type GLState struct {
	Buffer   uintptr
	Capacity uint64
	End      uint64
}

// State is the layout of the shared region.
type State struct {
	Version uint64
	Clocks  Clocks
	GL      GLState
	X11     x11.Data
}

// Size is the number of bytes of State captured in an image.
const Size = int(unsafe.Sizeof(State{}))

// Store holds the process-wide region. It is created once by the agent and
// handed to every component that needs the state.
type Store struct {
	region []byte
	state  *State
	log    *slog.Logger
}

// NewStore returns an uninitialized Store.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return &Store{log: log}
}

// Init maps and stamps the region. Calling it again is a no-op that returns the
// existing state. Failing to map the region is fatal.
func (s *Store) Init() *State {
	if s.state != nil {
		return s.state
	}

	page := unix.Getpagesize()
	length := (Size + page - 1) / page * page
	region, err := rawsys.Mmap(length)
	if err != nil {
		fatal.Failf("could not map snapshot region: %v", err)
	}
	clear(region)

	s.region = region
	s.state = (*State)(unsafe.Pointer(&region[0]))
	s.state.Version = Version

	s.log.Debug("snapshot initialized", "bytes", length, "version", Version)
	return s.state
}

// Initialized reports whether Init has run.
func (s *Store) Initialized() bool {
	return s.state != nil
}

// State returns the initialized state. Using the store before Init is fatal.
func (s *Store) State() *State {
	if s.state == nil {
		fatal.Fail("snapshot used before initialization")
	}
	return s.state
}

// Image returns a copy of the state's bytes.
func (s *Store) Image() []byte {
	st := s.State()
	img := make([]byte, Size)
	copy(img, unsafe.Slice((*byte)(unsafe.Pointer(st)), Size))
	return img
}

// Restore loads an image produced by Image. Clocks and windowing state are
// taken from the image; the GL buffer stays the one mapped in this process,
// and windowing pointers are relinked to this region.
func (s *Store) Restore(img []byte) error {
	st := s.State()
	saved, err := Decode(img)
	if err != nil {
		return err
	}

	gl := st.GL
	*st = *saved
	st.GL = gl
	st.GL.End = 0
	st.X11.Link()

	s.log.Debug("snapshot restored", "flags", st.X11.Flags)
	return nil
}

// Decode copies an image into a standalone State for inspection. Pointer
// fields in the result refer to the process that produced the image.
func Decode(img []byte) (*State, error) {
	if len(img) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrImageSize, len(img), Size)
	}
	st := new(State)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(st)), Size), img)
	if st.Version != Version {
		return nil, fmt.Errorf("%w: image version %d, agent version %d", ErrIncompatibleVersion, st.Version, Version)
	}
	return st, nil
}

// Close unmaps the region. Only tests need this; the agent keeps its region
// for the lifetime of the process.
func (s *Store) Close() error {
	if s.region == nil {
		return nil
	}
	err := rawsys.Munmap(s.region)
	s.region, s.state = nil, nil
	return err
}
