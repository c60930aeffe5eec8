//go:build linux && (amd64 || arm64)

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
)

func newClock(t *testing.T) (*Clock, *snapshot.Clocks) {
	t.Helper()
	store := snapshot.NewStore(nil)
	st := store.Init()
	t.Cleanup(func() { store.Close() })

	st.Clocks.Realtime = unix.Timespec{Sec: 1700000000, Nsec: 123456789}
	st.Clocks.Monotonic = unix.Timespec{Sec: 42, Nsec: 7}
	st.Clocks.Timestamp = 1600000000
	return New(store), &st.Clocks
}

func TestGettime(t *testing.T) {
	c, _ := newClock(t)

	var ts unix.Timespec
	assert.Zero(t, c.Gettime(unix.CLOCK_REALTIME, &ts))
	assert.Equal(t, unix.Timespec{Sec: 1700000000, Nsec: 123456789}, ts)

	assert.Zero(t, c.Gettime(unix.CLOCK_MONOTONIC, &ts))
	assert.Equal(t, unix.Timespec{Sec: 42, Nsec: 7}, ts)

	assert.Zero(t, c.Gettime(unix.CLOCK_PROCESS_CPUTIME_ID, &ts))
	assert.Equal(t, unix.Timespec{}, ts)

	assert.Zero(t, c.Gettime(unix.CLOCK_REALTIME, nil))
}

func TestGettimeFollowsSnapshot(t *testing.T) {
	c, clocks := newClock(t)
	clocks.Monotonic = unix.Timespec{Sec: 43}

	var ts unix.Timespec
	c.Gettime(unix.CLOCK_MONOTONIC, &ts)
	assert.Equal(t, int64(43), ts.Sec)
	assert.Zero(t, ts.Nsec)
}

func TestGetres(t *testing.T) {
	c, _ := newClock(t)
	res := unix.Timespec{Sec: 9, Nsec: 9}
	assert.Zero(t, c.Getres(unix.CLOCK_MONOTONIC, &res))
	assert.Equal(t, unix.Timespec{Nsec: 1}, res)
	assert.Zero(t, c.Getres(unix.CLOCK_MONOTONIC, nil))
}

func TestSettersRefuse(t *testing.T) {
	c, clocks := newClock(t)
	before := *clocks

	assert.Equal(t, unix.EPERM, c.Settime(unix.CLOCK_REALTIME, &unix.Timespec{Sec: 1}))
	assert.Equal(t, unix.EPERM, c.Settimeofday(&unix.Timeval{Sec: 1}, nil))
	assert.Equal(t, before, *clocks)
}

func TestTime(t *testing.T) {
	c, _ := newClock(t)
	assert.Equal(t, int64(1600000000), c.Time(nil))

	var out int64
	assert.Equal(t, int64(1600000000), c.Time(&out))
	assert.Equal(t, int64(1600000000), out)
}

func TestGettimeofday(t *testing.T) {
	c, _ := newClock(t)

	tv := unix.Timeval{}
	tz := Timezone{MinutesWest: 60, DSTTime: 1}
	assert.Zero(t, c.Gettimeofday(&tv, &tz))
	assert.Equal(t, unix.Timeval{Sec: 1700000000, Usec: 123456}, tv)
	assert.Equal(t, Timezone{}, tz)

	assert.Zero(t, c.Gettimeofday(nil, nil))
}

func TestNow(t *testing.T) {
	c, _ := newClock(t)
	assert.True(t, c.Now().Equal(time.Unix(1700000000, 123456789)))
}
