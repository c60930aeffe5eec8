//go:build linux && (amd64 || arm64)

// Package gl batches the tracee's OpenGL calls into a command stream for the
// tracer, which owns the real GL context.
package gl

import (
	"io"
	"log/slog"
	"math"
	"unsafe"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
)

// DefaultCapacity is the size of the batching buffer.
const DefaultCapacity = 4 * 1024 * 1024

// CommandBuffer accumulates encoded GL commands and writes them to the tracer
// in as few writes as possible. Its fill level lives in the snapshot so that a
// pause point always observes an empty buffer.
type CommandBuffer struct {
	state    *snapshot.GLState
	out      *protocol.Writer
	in       *protocol.Reader
	capacity int
	region   []byte
	log      *slog.Logger
}

// NewCommandBuffer returns a buffer of the given capacity writing commands to
// writeFD and reading results from readFD. Init must be called before use.
func NewCommandBuffer(state *snapshot.GLState, writeFD, readFD, capacity int, log *slog.Logger) *CommandBuffer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return &CommandBuffer{
		state:    state,
		out:      protocol.NewWriter(writeFD),
		in:       protocol.NewReader(readFD),
		capacity: capacity,
		log:      log,
	}
}

// Init maps the buffer. Failing to map it is fatal.
func (b *CommandBuffer) Init() {
	region, err := rawsys.Mmap(b.capacity)
	if err != nil {
		fatal.Failf("could not allocate gl commands buffer: %v", err)
	}
	b.region = region
	b.state.Buffer = rawsys.Addr(region)
	b.state.Capacity = uint64(b.capacity)
	b.state.End = 0
	b.log.Debug("gl buffer initialized", "capacity", b.capacity)
}

func (b *CommandBuffer) bytes() []byte {
	if b.region != nil {
		return b.region
	}
	if b.state.Buffer == 0 {
		fatal.Fail("gl buffer used before initialization")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(b.state.Buffer)), b.state.Capacity)
}

// Pending returns the number of bytes waiting to be flushed.
func (b *CommandBuffer) Pending() int {
	return int(b.state.End)
}

// Enqueue appends cmd to the buffer. If it does not fit in the remaining space
// the buffer is flushed first; a command larger than the whole buffer is then
// written on its own.
func (b *CommandBuffer) Enqueue(cmd []byte) {
	buf := b.bytes()
	if uint64(len(cmd)) > uint64(len(buf))-b.state.End {
		b.Flush()
		if len(cmd) > len(buf) {
			b.out.Send(cmd, "gl command")
			return
		}
	}
	copy(buf[b.state.End:], cmd)
	b.state.End += uint64(len(cmd))
}

// Flush writes all pending commands with a single write and empties the
// buffer.
func (b *CommandBuffer) Flush() {
	if b.state.End == 0 {
		return
	}
	b.out.Send(b.bytes()[:b.state.End], "gl commands")
	b.state.End = 0
}

// ReadBack reads exactly len(out) bytes of results from the tracer.
func (b *CommandBuffer) ReadBack(out []byte) {
	b.in.ReadInto(out, "gl result")
}

// Close unmaps the buffer.
func (b *CommandBuffer) Close() error {
	if b.region == nil {
		return nil
	}
	err := rawsys.Munmap(b.region)
	b.region = nil
	b.state.Buffer, b.state.Capacity, b.state.End = 0, 0, 0
	return err
}
