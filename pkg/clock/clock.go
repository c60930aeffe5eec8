//go:build linux && (amd64 || arm64)

// Package clock answers the tracee's time queries from the snapshot instead of
// the kernel, so that a replayed run observes exactly the times the tracer
// chose. The tracee cannot move its own clocks.
package clock

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
)

// Timezone is struct timezone.
type Timezone struct {
	MinutesWest int32
	DSTTime     int32
}

// Clock serves time from a snapshot's clock values.
type Clock struct {
	store *snapshot.Store
}

// New returns a Clock reading from store.
func New(store *snapshot.Store) *Clock {
	return &Clock{store: store}
}

func (c *Clock) clocks() *snapshot.Clocks {
	return &c.store.State().Clocks
}

// Getres is clock_getres. Every clock has a resolution of one nanosecond.
func (c *Clock) Getres(id int32, res *unix.Timespec) int32 {
	if res == nil {
		return 0
	}
	*res = unix.Timespec{Sec: 0, Nsec: 1}
	return 0
}

// Gettime is clock_gettime. Clocks other than realtime and monotonic read as
// zero.
func (c *Clock) Gettime(id int32, tp *unix.Timespec) int32 {
	if tp == nil {
		return 0
	}
	switch id {
	case unix.CLOCK_REALTIME:
		*tp = c.clocks().Realtime
	case unix.CLOCK_MONOTONIC:
		*tp = c.clocks().Monotonic
	default:
		*tp = unix.Timespec{}
	}
	return 0
}

// Settime is clock_settime and always fails with EPERM.
func (c *Clock) Settime(id int32, tp *unix.Timespec) unix.Errno {
	return unix.EPERM
}

// Time is time(2) and returns the coarse timestamp, storing it through t as
// well when t is not nil.
func (c *Clock) Time(t *int64) int64 {
	ts := c.clocks().Timestamp
	if t != nil {
		*t = ts
	}
	return ts
}

// Gettimeofday reports the realtime clock at microsecond resolution. The
// timezone, when requested, is always UTC without DST.
func (c *Clock) Gettimeofday(tv *unix.Timeval, tz *Timezone) int32 {
	if tv != nil {
		rt := c.clocks().Realtime
		*tv = unix.Timeval{Sec: rt.Sec, Usec: rt.Nsec / 1000}
	}
	if tz != nil {
		*tz = Timezone{}
	}
	return 0
}

// Settimeofday always fails with EPERM.
func (c *Clock) Settimeofday(tv *unix.Timeval, tz *Timezone) unix.Errno {
	return unix.EPERM
}

// Now returns the realtime clock as a time.Time.
func (c *Clock) Now() time.Time {
	rt := c.clocks().Realtime
	return time.Unix(rt.Sec, rt.Nsec)
}
