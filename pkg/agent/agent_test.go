//go:build linux && (amd64 || arm64)

package agent

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/config"
	"github.com/willibrandon/ChronoTracee/pkg/gl"
	"github.com/willibrandon/ChronoTracee/pkg/pause"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
	"github.com/willibrandon/ChronoTracee/pkg/x11"
)

// controller holds the tracer's ends of the four channels.
type controller struct {
	commands *protocol.Encoder
	events   int
	glIn     int
	glOut    int
	pauses   int
}

func seqpacket(t *testing.T) (local, remote int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// pipe is used for the channels the tracee reads field by field; a
// SOCK_SEQPACKET read would discard the rest of each message.
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

func newAgent(t *testing.T) (*Agent, *controller) {
	t.Helper()
	cmdR, cmdW := pipe(t)
	evW, evR := seqpacket(t)
	glW, glR := seqpacket(t)
	replyR, replyW := pipe(t)

	cfg := config.Default()
	cfg.CommandFD, cfg.EventFD = cmdR, evW
	cfg.GLWriteFD, cfg.GLReadFD = glW, replyR
	cfg.GLBufferSize = 8192
	cfg.ScreenWidth, cfg.ScreenHeight = 640, 480
	cfg.Announce = config.AnnounceNone

	ctl := &controller{
		commands: protocol.NewEncoder(rawsys.FDWriter(cmdW)),
		events:   evR,
		glIn:     glR,
		glOut:    replyW,
	}
	a, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))),
		WithAnnouncer(pause.AnnouncerFunc(func() { ctl.pauses++ })),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, ctl
}

func (c *controller) event(t *testing.T) protocol.Event {
	t.Helper()
	buf := make([]byte, 64)
	n, err := unix.Read(c.events, buf)
	require.NoError(t, err)
	ev, err := protocol.NewEventDecoder(bytes.NewReader(buf[:n])).Next()
	require.NoError(t, err)
	return ev
}

func (c *controller) glPacket(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 1<<16)
	n, _, err := unix.Recvfrom(c.glIn, buf, unix.MSG_DONTWAIT)
	if err == unix.EAGAIN {
		return nil
	}
	require.NoError(t, err)
	return buf[:n]
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Announce = "carrier-pigeon"
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestTestCommandThenPause(t *testing.T) {
	a, ctl := newAgent(t)
	require.NoError(t, ctl.commands.SetClock(protocol.ClockRealtime, 1000, 5))
	require.NoError(t, ctl.commands.SetTime(1000))
	require.NoError(t, ctl.commands.Continue())

	a.TestCommand(3)

	assert.Equal(t, protocol.Event{Cmd: protocol.CmdTest, Value: 3}, ctl.event(t))
	assert.Equal(t, 1, ctl.pauses)
	assert.Equal(t, int64(1000), a.Clock().Time(nil))

	var ts unix.Timespec
	a.Clock().Gettime(unix.CLOCK_REALTIME, &ts)
	assert.Equal(t, unix.Timespec{Sec: 1000, Nsec: 5}, ts)
}

func TestWindowFrame(t *testing.T) {
	a, ctl := newAgent(t)
	m := a.X11()

	d := m.OpenDisplay(":0")
	assert.Equal(t, int32(640), m.DefaultScreen(d).Width)
	w := m.CreateWindow(d, x11.RootWindowID, 0, 0, 640, 480)
	assert.Equal(t, protocol.Event{Cmd: protocol.CmdOpenWindow, Width: 640, Height: 480}, ctl.event(t))

	ctx := a.GL()
	ctx.Viewport(0, 0, 640, 480)
	ctx.Clear(gl.ColorBufferBit)
	assert.Nil(t, ctl.glPacket(t), "commands stay batched until the frame ends")

	require.NoError(t, ctl.commands.Continue())
	m.SwapBuffers(d, w)

	assert.Len(t, ctl.glPacket(t), 20+8)
	assert.Equal(t, 1, ctl.pauses)

	m.DestroyWindow(d, w)
	assert.Equal(t, protocol.Event{Cmd: protocol.CmdCloseWindow}, ctl.event(t))
}

func TestPauseSnapshotRoundTrip(t *testing.T) {
	a, ctl := newAgent(t)
	require.NoError(t, ctl.commands.SetTime(77))
	require.NoError(t, ctl.commands.Continue())
	a.Pause()
	img := a.Snapshot().Image()

	b, _ := newAgent(t)
	require.NoError(t, b.Snapshot().Restore(img))
	assert.Equal(t, int64(77), b.Clock().Time(nil))
	assert.Equal(t, pause.Running, a.Engine().State())
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.False(t, l.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, l.Enabled(context.Background(), slog.LevelError))
}
