//go:build linux && (amd64 || arm64)

package gl

import (
	"fmt"
	"math"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
)

// Command identifies a GL call in the command stream. Every command starts
// with its id as a native-endian int32, followed by the call's parameters
// packed without padding.
type Command int32

const (
	CmdGenBuffers Command = iota + 1
	CmdDeleteBuffers
	CmdBindBuffer
	CmdBufferData
	CmdBufferSubData
	CmdGetBufferParameteriv
	CmdGenTextures
	CmdDeleteTextures
	CmdBindTexture
	CmdTexImage2D
	CmdTexSubImage2D
	CmdViewport
	CmdClearColor
	CmdClear
	CmdDrawArrays

	CmdFlush            Command = 9001
	CmdGetBufferSubData Command = 9002
)

// Context encodes GL calls onto a CommandBuffer.
//
// Variable-length parameters are sent as a u64 byte count inside the
// parameter block, followed by the bytes themselves as a separate enqueue.
// Calls that produce a value flush the buffer and read the value back.
type Context struct {
	buf     *CommandBuffer
	scratch []byte
}

// NewContext returns a Context writing to buf.
func NewContext(buf *CommandBuffer) *Context {
	return &Context{buf: buf, scratch: make([]byte, 0, 64)}
}

// Buffer returns the underlying command buffer.
func (c *Context) Buffer() *CommandBuffer { return c.buf }

func (c *Context) begin(cmd Command) []byte {
	return protocol.Order.AppendUint32(c.scratch[:0], uint32(cmd))
}

func u32(b []byte, v uint32) []byte  { return protocol.Order.AppendUint32(b, v) }
func i32(b []byte, v int32) []byte   { return protocol.Order.AppendUint32(b, uint32(v)) }
func i64(b []byte, v int64) []byte   { return protocol.Order.AppendUint64(b, uint64(v)) }
func f32(b []byte, v float32) []byte { return protocol.Order.AppendUint32(b, math.Float32bits(v)) }

func sizeOf(b, data []byte) []byte {
	return protocol.Order.AppendUint64(b, uint64(len(data)))
}

func (c *Context) send(block []byte, data ...[]byte) {
	c.buf.Enqueue(block)
	c.scratch = block[:0]
	for _, d := range data {
		if len(d) > 0 {
			c.buf.Enqueue(d)
		}
	}
}

func namesBytes(names []uint32) []byte {
	b := make([]byte, 0, 4*len(names))
	for _, n := range names {
		b = u32(b, n)
	}
	return b
}

// gen sends a glGen* call and reads back n names.
func (c *Context) gen(cmd Command, n int32) []uint32 {
	c.send(i32(c.begin(cmd), n))
	c.buf.Flush()
	if n <= 0 {
		return nil
	}
	raw := make([]byte, 4*int(n))
	c.buf.ReadBack(raw)
	names := make([]uint32, n)
	for i := range names {
		names[i] = protocol.Order.Uint32(raw[4*i:])
	}
	return names
}

func (c *Context) del(cmd Command, names []uint32) {
	data := namesBytes(names)
	b := i32(c.begin(cmd), int32(len(names)))
	c.send(sizeOf(b, data), data)
}

// Flush is glFlush: it queues the flush command and pushes the whole batch.
func (c *Context) Flush() {
	c.send(c.begin(CmdFlush))
	c.buf.Flush()
}

// GenBuffers is glGenBuffers.
func (c *Context) GenBuffers(n int32) []uint32 {
	return c.gen(CmdGenBuffers, n)
}

// DeleteBuffers is glDeleteBuffers.
func (c *Context) DeleteBuffers(names []uint32) {
	c.del(CmdDeleteBuffers, names)
}

// BindBuffer is glBindBuffer.
func (c *Context) BindBuffer(target, buffer uint32) {
	c.send(u32(u32(c.begin(CmdBindBuffer), target), buffer))
}

// BufferData is glBufferData. A nil data allocates size bytes of undefined
// content.
func (c *Context) BufferData(target uint32, size int64, data []byte, usage uint32) {
	if size < 0 {
		fatal.Failf("glBufferData given negative size %d", size)
	}
	if data != nil && int64(len(data)) < size {
		fatal.Failf("glBufferData given %d bytes for a %d byte buffer", len(data), size)
	}
	if data != nil {
		data = data[:size]
	}
	b := u32(c.begin(CmdBufferData), target)
	b = i64(b, size)
	b = sizeOf(b, data)
	b = u32(b, usage)
	c.send(b, data)
}

// BufferSubData is glBufferSubData.
func (c *Context) BufferSubData(target uint32, offset int64, data []byte) {
	b := u32(c.begin(CmdBufferSubData), target)
	b = i64(b, offset)
	b = i64(b, int64(len(data)))
	b = sizeOf(b, data)
	c.send(b, data)
}

// GetBufferSubData is glGetBufferSubData. Pending commands are flushed so the
// tracer has applied every earlier write before it answers.
func (c *Context) GetBufferSubData(target uint32, offset int64, out []byte) {
	b := u32(c.begin(CmdGetBufferSubData), target)
	b = i64(b, offset)
	b = i64(b, int64(len(out)))
	c.send(b)
	c.buf.Flush()
	c.buf.ReadBack(out)
}

// GetBufferParameteriv is glGetBufferParameteriv for single-valued parameters.
func (c *Context) GetBufferParameteriv(target, pname uint32) int32 {
	c.send(u32(u32(c.begin(CmdGetBufferParameteriv), target), pname))
	c.buf.Flush()
	var raw [4]byte
	c.buf.ReadBack(raw[:])
	return int32(protocol.Order.Uint32(raw[:]))
}

// GenTextures is glGenTextures.
func (c *Context) GenTextures(n int32) []uint32 {
	return c.gen(CmdGenTextures, n)
}

// DeleteTextures is glDeleteTextures.
func (c *Context) DeleteTextures(names []uint32) {
	c.del(CmdDeleteTextures, names)
}

// BindTexture is glBindTexture.
func (c *Context) BindTexture(target, texture uint32) {
	c.send(u32(u32(c.begin(CmdBindTexture), target), texture))
}

func pixelData(call string, format, typ uint32, width, height int32, pixels []byte) ([]byte, error) {
	n, err := ImageSize(format, typ, width, height)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call, err)
	}
	if pixels == nil {
		return nil, nil
	}
	if len(pixels) < n {
		return nil, fmt.Errorf("%s: %d bytes of pixels for a %dx%d image of %d bytes", call, len(pixels), width, height, n)
	}
	return pixels[:n], nil
}

// TexImage2D is glTexImage2D. Nothing is sent if the pixel size of format and
// typ is unknown.
func (c *Context) TexImage2D(target uint32, level, internalFormat, width, height, border int32, format, typ uint32, pixels []byte) error {
	data, err := pixelData("glTexImage2D", format, typ, width, height, pixels)
	if err != nil {
		return err
	}
	b := u32(c.begin(CmdTexImage2D), target)
	b = i32(b, level)
	b = i32(b, internalFormat)
	b = i32(b, width)
	b = i32(b, height)
	b = i32(b, border)
	b = u32(b, format)
	b = u32(b, typ)
	b = sizeOf(b, data)
	c.send(b, data)
	return nil
}

// TexSubImage2D is glTexSubImage2D.
func (c *Context) TexSubImage2D(target uint32, level, xoffset, yoffset, width, height int32, format, typ uint32, pixels []byte) error {
	data, err := pixelData("glTexSubImage2D", format, typ, width, height, pixels)
	if err != nil {
		return err
	}
	b := u32(c.begin(CmdTexSubImage2D), target)
	b = i32(b, level)
	b = i32(b, xoffset)
	b = i32(b, yoffset)
	b = i32(b, width)
	b = i32(b, height)
	b = u32(b, format)
	b = u32(b, typ)
	b = sizeOf(b, data)
	c.send(b, data)
	return nil
}

// Viewport is glViewport.
func (c *Context) Viewport(x, y, width, height int32) {
	c.send(i32(i32(i32(i32(c.begin(CmdViewport), x), y), width), height))
}

// ClearColor is glClearColor.
func (c *Context) ClearColor(r, g, b, a float32) {
	c.send(f32(f32(f32(f32(c.begin(CmdClearColor), r), g), b), a))
}

// Clear is glClear.
func (c *Context) Clear(mask uint32) {
	c.send(u32(c.begin(CmdClear), mask))
}

// DrawArrays is glDrawArrays.
func (c *Context) DrawArrays(mode uint32, first, count int32) {
	c.send(i32(i32(u32(c.begin(CmdDrawArrays), mode), first), count))
}

func unimplemented(name string) {
	fatal.Failf("tracee called %s, whose wrapper is unimplemented", name)
}

// MapBuffer is glMapBuffer, which is not supported.
func (c *Context) MapBuffer(target, access uint32) uintptr {
	unimplemented("glMapBuffer")
	return 0
}

// MapBufferRange is glMapBufferRange, which is not supported.
func (c *Context) MapBufferRange(target uint32, offset, length int64, access uint32) uintptr {
	unimplemented("glMapBufferRange")
	return 0
}

// UnmapBuffer is glUnmapBuffer, which is not supported.
func (c *Context) UnmapBuffer(target uint32) bool {
	unimplemented("glUnmapBuffer")
	return false
}

// ReadPixels is glReadPixels, which is not supported.
func (c *Context) ReadPixels(x, y, width, height int32, format, typ uint32, out []byte) {
	unimplemented("glReadPixels")
}

// FenceSync is glFenceSync. Sync objects are not supported.
func (c *Context) FenceSync(condition, flags uint32) uintptr {
	unimplemented("glFenceSync")
	return 0
}

// ClientWaitSync is glClientWaitSync.
func (c *Context) ClientWaitSync(sync uintptr, flags uint32, timeout uint64) uint32 {
	unimplemented("glClientWaitSync")
	return 0
}

// WaitSync is glWaitSync.
func (c *Context) WaitSync(sync uintptr, flags uint32, timeout uint64) {
	unimplemented("glWaitSync")
}

// DeleteSync is glDeleteSync.
func (c *Context) DeleteSync(sync uintptr) {
	unimplemented("glDeleteSync")
}

// Finish is glFinish.
func (c *Context) Finish() {
	unimplemented("glFinish")
}
