// Package protocol defines the command stream between the tracer and the
// agent running inside the tracee.
//
// Every message starts with a 4-byte signed tag followed by fixed-width fields
// in native byte order. Strings are a u32 length followed by raw bytes with no
// terminator. Nothing is self-delimiting beyond that: both sides must agree on
// each command's payload shape.
package protocol

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Order is the byte order of every value on the wire.
var Order = binary.NativeEndian

// Default channel numbers inside the tracee.
const (
	CommandFD = 500 // tracer -> tracee commands
	EventFD   = 501 // tracee -> tracer events
	GLReadFD  = 502 // tracer -> tracee GL read-back
	GLWriteFD = 503 // tracee -> tracer GL command stream
)

// TagSize is the width of a command tag.
const TagSize = 4

// MaxNameLen is the longest file name OPEN carries: PATH_MAX less the
// terminator.
const MaxNameLen = unix.PathMax - 1

// PointerSize is the width of a SETHEAP pointer.
const PointerSize = int(unsafe.Sizeof(uintptr(0)))

// Wrapper2AppCmd is a command sent by the tracer to the tracee.
type Wrapper2AppCmd int32

const (
	CmdContinue Wrapper2AppCmd = iota
	CmdSetHeap
	CmdOpen
	CmdClose
	CmdSetClock
	CmdSetTime
)

func (c Wrapper2AppCmd) String() string {
	switch c {
	case CmdContinue:
		return "CONTINUE"
	case CmdSetHeap:
		return "SETHEAP"
	case CmdOpen:
		return "OPEN"
	case CmdClose:
		return "CLOSE"
	case CmdSetClock:
		return "SETCLOCK"
	case CmdSetTime:
		return "SETTIME"
	default:
		return fmt.Sprintf("Wrapper2AppCmd(%d)", int32(c))
	}
}

// App2WrapperCmd is an event sent by the tracee to the tracer.
type App2WrapperCmd int32

const (
	CmdOpenWindow App2WrapperCmd = iota
	CmdCloseWindow
	CmdTest
)

func (c App2WrapperCmd) String() string {
	switch c {
	case CmdOpenWindow:
		return "OPENWINDOW"
	case CmdCloseWindow:
		return "CLOSEWINDOW"
	case CmdTest:
		return "TEST"
	default:
		return fmt.Sprintf("App2WrapperCmd(%d)", int32(c))
	}
}

// Clock types accepted by SETCLOCK. They share the kernel's clock ids.
const (
	ClockRealtime  int32 = unix.CLOCK_REALTIME
	ClockMonotonic int32 = unix.CLOCK_MONOTONIC
)
