//go:build linux && (amd64 || arm64)

package pause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
)

type harness struct {
	engine    *Engine
	store     *snapshot.Store
	enc       *protocol.Encoder
	w         int
	announced int
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})

	store := snapshot.NewStore(nil)
	store.Init()
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, enc: protocol.NewEncoder(rawsys.FDWriter(p[1])), w: p[1]}
	opts = append([]Option{WithAnnouncer(AnnouncerFunc(func() { h.announced++ }))}, opts...)
	h.engine = NewEngine(protocol.NewReader(p[0]), store, opts...)
	return h
}

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestPauseContinue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enc.Continue())

	h.engine.Pause()
	assert.Equal(t, 1, h.announced)
	assert.Equal(t, Running, h.engine.State())
	assert.Zero(t, h.engine.Dispatches())
}

func TestSetClockThenContinue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enc.SetClock(protocol.ClockRealtime, 1000, 0))
	require.NoError(t, h.enc.Continue())

	h.engine.Pause()
	assert.Equal(t, unix.Timespec{Sec: 1000, Nsec: 0}, h.store.State().Clocks.Realtime)
}

func TestSetClockAndTime(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enc.SetClock(protocol.ClockRealtime, 1700000000, 250))
	require.NoError(t, h.enc.SetClock(protocol.ClockMonotonic, 5, 999999999))
	require.NoError(t, h.enc.SetTime(1700000000))
	require.NoError(t, h.enc.Continue())

	h.engine.Pause()

	clocks := h.store.State().Clocks
	assert.Equal(t, unix.Timespec{Sec: 1700000000, Nsec: 250}, clocks.Realtime)
	assert.Equal(t, unix.Timespec{Sec: 5, Nsec: 999999999}, clocks.Monotonic)
	assert.Equal(t, int64(1700000000), clocks.Timestamp)
	assert.Equal(t, uint64(3), h.engine.Dispatches())
}

func TestOpenInstallsDescriptor(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	// Low descriptors may belong to the runtime; the agent would replace
	// whatever sits on the target, so tests stay well above them.
	const target = 700
	h := newHarness(t)
	before := openFDs(t)

	require.NoError(t, h.enc.Open(path, target, unix.O_RDONLY, 512))
	require.NoError(t, h.enc.Continue())
	h.engine.Pause()

	assert.Equal(t, before+1, openFDs(t), "only the target descriptor stays open")
	pos, err := unix.Seek(target, 0, unix.SEEK_CUR)
	require.NoError(t, err)
	assert.Equal(t, int64(512), pos)
	buf := make([]byte, 4)
	_, err = unix.Read(target, buf)
	require.NoError(t, err)
	assert.Equal(t, data[512:516], buf)

	require.NoError(t, h.enc.Close(target))
	require.NoError(t, h.enc.Continue())
	h.engine.Pause()

	assert.Equal(t, before, openFDs(t))
	_, err = unix.FcntlInt(uintptr(target), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestOpenReplacesExistingDescriptor(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	require.NoError(t, os.WriteFile(first, []byte("AAAA"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("BBBB"), 0o644))

	const target = 701
	t.Cleanup(func() { unix.Close(target) })
	h := newHarness(t)
	require.NoError(t, h.enc.Open(first, target, unix.O_RDONLY, 0))
	require.NoError(t, h.enc.Open(second, target, unix.O_RDONLY, 2))
	require.NoError(t, h.enc.Continue())
	h.engine.Pause()

	buf := make([]byte, 8)
	n, err := unix.Read(target, buf)
	require.NoError(t, err)
	assert.Equal(t, "BB", string(buf[:n]))
}

type fakeBrk struct {
	rawKernel
	result    uintptr
	requested uintptr
}

func (k *fakeBrk) Brk(addr uintptr) uintptr {
	k.requested = addr
	return k.result
}

func TestSetHeap(t *testing.T) {
	k := &fakeBrk{result: 0x5000}
	h := newHarness(t, WithKernel(k))
	require.NoError(t, h.enc.SetHeap(0x4000))
	require.NoError(t, h.enc.Continue())

	h.engine.Pause()
	assert.Equal(t, uintptr(0x4000), k.requested)
}

func TestSetHeapBelowRequestIsFatal(t *testing.T) {
	k := &fakeBrk{result: 0x3000}
	h := newHarness(t, WithKernel(k))
	require.NoError(t, h.enc.SetHeap(0x4000))

	msg, failed := fatal.Catch(h.engine.Pause)
	require.True(t, failed)
	assert.Contains(t, msg, "program break")
}

func TestSetHeapQueryIsHarmless(t *testing.T) {
	h := newHarness(t)
	current := rawsys.Brk(0)
	require.NoError(t, h.enc.SetHeap(uint64(current)))
	require.NoError(t, h.enc.Continue())

	_, failed := fatal.Catch(h.engine.Pause)
	assert.False(t, failed)
}

func TestFatalCommands(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		send func(*protocol.Encoder) error
		want string
	}{
		{"unknown tag", func(e *protocol.Encoder) error { return e.Raw(99) }, "unknown command 99"},
		{"missing file", func(e *protocol.Encoder) error {
			return e.Open(filepath.Join(dir, "missing"), 702, unix.O_RDONLY, 0)
		}, "could not open"},
		{"seek mismatch", func(e *protocol.Encoder) error {
			return e.Open("/dev/null", 703, unix.O_RDONLY, 10)
		}, "could not seek"},
		{"close unopened", func(e *protocol.Encoder) error { return e.Close(704) }, "could not close fd 704"},
		{"unknown clock", func(e *protocol.Encoder) error { return e.SetClock(7, 1, 1) }, "unknown clock type 7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Cleanup(func() { unix.Close(703) })
			h := newHarness(t)
			require.NoError(t, tc.send(h.enc))

			msg, failed := fatal.Catch(h.engine.Pause)
			require.True(t, failed)
			assert.Contains(t, msg, tc.want)
		})
	}
}

func TestTruncatedPayloadIsFatal(t *testing.T) {
	h := newHarness(t)
	buf := protocol.Order.AppendUint32(nil, uint32(protocol.CmdSetTime))
	buf = append(buf, 1, 2, 3, 4)
	_, err := unix.Write(h.w, buf)
	require.NoError(t, err)

	msg, failed := fatal.Catch(h.engine.Pause)
	require.True(t, failed)
	assert.Contains(t, msg, "timestamp")
	assert.Zero(t, h.store.State().Clocks.Timestamp)
}

func TestStepStates(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.enc.SetTime(7))
	require.NoError(t, h.enc.Continue())

	assert.False(t, h.engine.Step())
	assert.Equal(t, Paused, h.engine.State())
	assert.True(t, h.engine.Step())
	assert.Equal(t, Running, h.engine.State())
	assert.Equal(t, "dispatching", Dispatching.String())
}
