//go:build linux

package protocol

import (
	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
)

// Reader decodes fixed-width fields from a raw descriptor inside the tracee.
// Every field is read with exactly one read of exactly its width; anything
// shorter is fatal rather than being taken as a smaller value.
type Reader struct {
	fd      int
	scratch [8]byte
}

// NewReader returns a Reader over fd.
func NewReader(fd int) *Reader {
	return &Reader{fd: fd}
}

// FD returns the underlying descriptor.
func (r *Reader) FD() int { return r.fd }

func (r *Reader) fill(buf []byte, what string) {
	if !rawsys.ReadExact(r.fd, buf) {
		fatal.Failf("could not read %s (%d bytes) from fd %d", what, len(buf), r.fd)
	}
}

// Command reads a command tag.
func (r *Reader) Command() Wrapper2AppCmd {
	return Wrapper2AppCmd(r.Int32("command"))
}

// Int32 reads a native-endian int32.
func (r *Reader) Int32(what string) int32 {
	b := r.scratch[:4]
	r.fill(b, what)
	return int32(Order.Uint32(b))
}

// Uint32 reads a native-endian uint32.
func (r *Reader) Uint32(what string) uint32 {
	b := r.scratch[:4]
	r.fill(b, what)
	return Order.Uint32(b)
}

// Uint64 reads a native-endian uint64.
func (r *Reader) Uint64(what string) uint64 {
	b := r.scratch[:8]
	r.fill(b, what)
	return Order.Uint64(b)
}

// Pointer reads a pointer-width unsigned value.
func (r *Reader) Pointer(what string) uintptr {
	b := r.scratch[:PointerSize]
	r.fill(b, what)
	if PointerSize == 4 {
		return uintptr(Order.Uint32(b))
	}
	return uintptr(Order.Uint64(b))
}

// Bytes reads exactly n bytes into a new slice.
func (r *Reader) Bytes(n int, what string) []byte {
	b := make([]byte, n)
	r.fill(b, what)
	return b
}

// String reads a u32 length followed by that many bytes. Lengths past
// MaxNameLen are fatal.
func (r *Reader) String(what string) string {
	n := r.Uint32(what + " length")
	if n > MaxNameLen {
		fatal.Failf("%s length %d exceeds %d bytes", what, n, MaxNameLen)
	}
	return string(r.Bytes(int(n), what))
}

// ReadInto fills buf completely from the descriptor.
func (r *Reader) ReadInto(buf []byte, what string) {
	r.fill(buf, what)
}

// Writer emits events from inside the tracee. Each message goes out in a
// single write so the tracer never observes half an event.
type Writer struct {
	fd int
}

// NewWriter returns a Writer over fd.
func NewWriter(fd int) *Writer {
	return &Writer{fd: fd}
}

// FD returns the underlying descriptor.
func (w *Writer) FD() int { return w.fd }

// Event writes tag followed by each field as a native-endian uint32.
func (w *Writer) Event(tag App2WrapperCmd, fields ...uint32) {
	buf := make([]byte, 0, TagSize+4*len(fields))
	buf = Order.AppendUint32(buf, uint32(tag))
	for _, f := range fields {
		buf = Order.AppendUint32(buf, f)
	}
	w.Send(buf, tag.String())
}

// Send writes buf with one write, failing fatally on a short write.
func (w *Writer) Send(buf []byte, what string) {
	if !rawsys.WriteExact(w.fd, buf) {
		fatal.Failf("could not write %s (%d bytes) to fd %d", what, len(buf), w.fd)
	}
}
