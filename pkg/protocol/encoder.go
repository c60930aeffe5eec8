package protocol

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNameTooLong is returned for file names longer than MaxNameLen.
	ErrNameTooLong = errors.New("file name too long")
	// ErrUnknownEvent is returned for an event tag the decoder does not know.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrTruncated is returned when a stream ends in the middle of a message.
	ErrTruncated = errors.New("truncated message")
)

// Encoder writes tracer commands. It is the controller's half of the
// protocol and reports errors instead of aborting.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) send(buf []byte, cmd Wrapper2AppCmd) error {
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	return nil
}

func tag(cmd Wrapper2AppCmd, extra int) []byte {
	buf := make([]byte, 0, TagSize+extra)
	return Order.AppendUint32(buf, uint32(cmd))
}

// Continue resumes the tracee.
func (e *Encoder) Continue() error {
	return e.send(tag(CmdContinue, 0), CmdContinue)
}

// SetHeap moves the tracee's program break to ptr.
func (e *Encoder) SetHeap(ptr uint64) error {
	buf := tag(CmdSetHeap, PointerSize)
	if PointerSize == 4 {
		buf = Order.AppendUint32(buf, uint32(ptr))
	} else {
		buf = Order.AppendUint64(buf, ptr)
	}
	return e.send(buf, CmdSetHeap)
}

// Open makes the tracee open name on descriptor fd with flags, positioned at seek.
func (e *Encoder) Open(name string, fd, flags int32, seek uint64) error {
	if len(name) > MaxNameLen {
		return fmt.Errorf("%s %q: %w", CmdOpen, name[:32], ErrNameTooLong)
	}
	buf := tag(CmdOpen, 4+len(name)+4+4+8)
	buf = Order.AppendUint32(buf, uint32(len(name)))
	buf = append(buf, name...)
	buf = Order.AppendUint32(buf, uint32(fd))
	buf = Order.AppendUint32(buf, uint32(flags))
	buf = Order.AppendUint64(buf, seek)
	return e.send(buf, CmdOpen)
}

// Close makes the tracee close fd.
func (e *Encoder) Close(fd int32) error {
	buf := tag(CmdClose, 4)
	buf = Order.AppendUint32(buf, uint32(fd))
	return e.send(buf, CmdClose)
}

// SetClock overwrites one of the tracee's snapshot clocks.
func (e *Encoder) SetClock(clock int32, sec, nsec uint64) error {
	buf := tag(CmdSetClock, 4+8+8)
	buf = Order.AppendUint32(buf, uint32(clock))
	buf = Order.AppendUint64(buf, sec)
	buf = Order.AppendUint64(buf, nsec)
	return e.send(buf, CmdSetClock)
}

// SetTime overwrites the coarse timestamp returned by time(2).
func (e *Encoder) SetTime(ts uint64) error {
	buf := tag(CmdSetTime, 8)
	buf = Order.AppendUint64(buf, ts)
	return e.send(buf, CmdSetTime)
}

// Raw writes an arbitrary tag with no payload. Useful for exercising the
// tracee's handling of unknown commands.
func (e *Encoder) Raw(cmd Wrapper2AppCmd) error {
	return e.send(tag(cmd, 0), cmd)
}

// Event is a decoded tracee event.
type Event struct {
	Cmd    App2WrapperCmd
	Width  uint32 // OPENWINDOW
	Height uint32 // OPENWINDOW
	Value  uint32 // TEST
}

func (ev Event) String() string {
	switch ev.Cmd {
	case CmdOpenWindow:
		return fmt.Sprintf("%s %dx%d", ev.Cmd, ev.Width, ev.Height)
	case CmdTest:
		return fmt.Sprintf("%s %d", ev.Cmd, ev.Value)
	default:
		return ev.Cmd.String()
	}
}

// EventDecoder reads events written by the tracee.
type EventDecoder struct {
	r   io.Reader
	buf [8]byte
}

// NewEventDecoder returns a decoder reading from r.
func NewEventDecoder(r io.Reader) *EventDecoder {
	return &EventDecoder{r: r}
}

// Next returns the next event. It returns io.EOF only at a message boundary.
func (d *EventDecoder) Next() (Event, error) {
	if _, err := io.ReadFull(d.r, d.buf[:TagSize]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Event{}, fmt.Errorf("event tag: %w", ErrTruncated)
		}
		return Event{}, err
	}
	ev := Event{Cmd: App2WrapperCmd(Order.Uint32(d.buf[:TagSize]))}

	switch ev.Cmd {
	case CmdOpenWindow:
		if err := d.fields(ev.Cmd, &ev.Width, &ev.Height); err != nil {
			return Event{}, err
		}
	case CmdCloseWindow:
	case CmdTest:
		if err := d.fields(ev.Cmd, &ev.Value); err != nil {
			return Event{}, err
		}
	default:
		return Event{}, fmt.Errorf("%w: tag %d", ErrUnknownEvent, int32(ev.Cmd))
	}
	return ev, nil
}

func (d *EventDecoder) fields(cmd App2WrapperCmd, out ...*uint32) error {
	for _, p := range out {
		if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
			return fmt.Errorf("%s payload: %w", cmd, ErrTruncated)
		}
		*p = Order.Uint32(d.buf[:4])
	}
	return nil
}
