//go:build linux

package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestEncoderOpenLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Open("data.bin", 7, int32(unix.O_RDONLY), 512))

	b := buf.Bytes()
	require.Len(t, b, 4+4+8+4+4+8)
	assert.Equal(t, uint32(CmdOpen), Order.Uint32(b[0:]))
	assert.Equal(t, uint32(8), Order.Uint32(b[4:]))
	assert.Equal(t, "data.bin", string(b[8:16]))
	assert.Equal(t, uint32(7), Order.Uint32(b[16:]))
	assert.Equal(t, uint32(unix.O_RDONLY), Order.Uint32(b[20:]))
	assert.Equal(t, uint64(512), Order.Uint64(b[24:]))
}

func TestEncoderSizes(t *testing.T) {
	tests := []struct {
		name string
		emit func(*Encoder) error
		size int
	}{
		{"continue", (*Encoder).Continue, 4},
		{"setheap", func(e *Encoder) error { return e.SetHeap(0x1000) }, 4 + PointerSize},
		{"close", func(e *Encoder) error { return e.Close(3) }, 8},
		{"setclock", func(e *Encoder) error { return e.SetClock(ClockMonotonic, 1, 2) }, 4 + 4 + 16},
		{"settime", func(e *Encoder) error { return e.SetTime(99) }, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.emit(NewEncoder(&buf)))
			assert.Equal(t, tt.size, buf.Len())
		})
	}
}

func TestReaderDecodesEncoderOutput(t *testing.T) {
	r, w := pipe(t)
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.SetClock(ClockRealtime, 1000, 7))
	require.NoError(t, enc.Open("x", 9, 2, 3))
	_, err := unix.Write(w, buf.Bytes())
	require.NoError(t, err)

	rd := NewReader(r)
	assert.Equal(t, CmdSetClock, rd.Command())
	assert.Equal(t, ClockRealtime, rd.Int32("clock"))
	assert.Equal(t, uint64(1000), rd.Uint64("sec"))
	assert.Equal(t, uint64(7), rd.Uint64("nsec"))

	assert.Equal(t, CmdOpen, rd.Command())
	assert.Equal(t, "x", rd.String("name"))
	assert.Equal(t, int32(9), rd.Int32("fd"))
	assert.Equal(t, int32(2), rd.Int32("flags"))
	assert.Equal(t, uint64(3), rd.Uint64("seek"))
}

func TestReaderTruncatedFieldIsFatal(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	// Four of the eight bytes of a u64, then the writer goes away.
	_, err := unix.Write(w, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, unix.Close(w))

	var got uint64
	msg, failed := fatal.Catch(func() {
		got = NewReader(r).Uint64("seconds")
	})
	require.True(t, failed, "a short field must never decode")
	assert.Contains(t, msg, "seconds")
	assert.Zero(t, got)
}

func TestReaderRejectsOversizedName(t *testing.T) {
	r, w := pipe(t)
	var b []byte
	b = Order.AppendUint32(b, math.MaxUint32)
	_, err := unix.Write(w, b)
	require.NoError(t, err)

	msg, failed := fatal.Catch(func() { NewReader(r).String("file name") })
	require.True(t, failed)
	assert.Contains(t, msg, "file name length 4294967295")
}

func TestReaderAcceptsLongestName(t *testing.T) {
	r, w := pipe(t)
	name := strings.Repeat("n", MaxNameLen)
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Open(name, 9, 0, 0))
	_, err := unix.Write(w, buf.Bytes())
	require.NoError(t, err)

	rd := NewReader(r)
	assert.Equal(t, CmdOpen, rd.Command())
	assert.Equal(t, name, rd.String("name"))
}

func TestEncoderRejectsLongName(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).Open(strings.Repeat("n", MaxNameLen+1), 9, 0, 0)
	assert.ErrorIs(t, err, ErrNameTooLong)
	assert.Zero(t, buf.Len())
}

func TestWriterEventIsOneWrite(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	NewWriter(fds[0]).Event(CmdOpenWindow, 800, 600)

	buf := make([]byte, 64)
	n, err := unix.Read(fds[1], buf)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	ev, err := NewEventDecoder(bytes.NewReader(buf[:n])).Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Cmd: CmdOpenWindow, Width: 800, Height: 600}, ev)
}

func TestEventDecoder(t *testing.T) {
	var stream []byte
	stream = Order.AppendUint32(stream, uint32(CmdOpenWindow))
	stream = Order.AppendUint32(stream, 640)
	stream = Order.AppendUint32(stream, 480)
	stream = Order.AppendUint32(stream, uint32(CmdTest))
	stream = Order.AppendUint32(stream, 3)
	stream = Order.AppendUint32(stream, uint32(CmdCloseWindow))

	dec := NewEventDecoder(bytes.NewReader(stream))
	var got []string
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev.String())
	}
	assert.Equal(t, []string{"OPENWINDOW 640x480", "TEST 3", "CLOSEWINDOW"}, got)
}

func TestEventDecoderErrors(t *testing.T) {
	truncated := Order.AppendUint32(nil, uint32(CmdOpenWindow))
	truncated = Order.AppendUint32(truncated, 640)
	_, err := NewEventDecoder(bytes.NewReader(truncated)).Next()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewEventDecoder(bytes.NewReader([]byte{1, 2})).Next()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewEventDecoder(bytes.NewReader(Order.AppendUint32(nil, 77))).Next()
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestCommandStrings(t *testing.T) {
	assert.Equal(t, "SETCLOCK", CmdSetClock.String())
	assert.Equal(t, "Wrapper2AppCmd(42)", Wrapper2AppCmd(42).String())
	assert.Equal(t, "CLOSEWINDOW", CmdCloseWindow.String())
}

func TestScript(t *testing.T) {
	steps, err := ParseScript([]byte(`
- op: setclock
  clock: realtime
  sec: 1000
- op: open
  path: data.bin
  fd: 7
  seek: 512
- op: continue
`))
	require.NoError(t, err)
	require.Len(t, steps, 3)

	var got, want bytes.Buffer
	require.NoError(t, EncodeScript(NewEncoder(&got), steps))

	enc := NewEncoder(&want)
	require.NoError(t, enc.SetClock(ClockRealtime, 1000, 0))
	require.NoError(t, enc.Open("data.bin", 7, 0, 512))
	require.NoError(t, enc.Continue())
	assert.Equal(t, want.Bytes(), got.Bytes())
}

func TestScriptRejectsBadSteps(t *testing.T) {
	for _, src := range []string{
		"- op: jump",
		"- op: open",
		"- op: setclock\n  clock: boottime",
		"- op: setheap",
	} {
		steps, err := ParseScript([]byte(src))
		require.NoError(t, err)
		err = EncodeScript(NewEncoder(io.Discard), steps)
		assert.ErrorIs(t, err, ErrBadStep, src)
	}
}
