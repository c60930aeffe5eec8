package protocol

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrBadStep is returned for a script step that cannot be encoded.
var ErrBadStep = errors.New("invalid script step")

// Step is one command in a YAML command script, as written by an operator
// preparing a tracee for replay:
//
//	- op: open
//	  path: data.bin
//	  fd: 7
//	  flags: 0
//	  seek: 512
//	- op: setclock
//	  clock: realtime
//	  sec: 1000
//	- op: continue
type Step struct {
	Op    string `yaml:"op"`
	Path  string `yaml:"path,omitempty"`
	FD    int32  `yaml:"fd,omitempty"`
	Flags int32  `yaml:"flags,omitempty"`
	Seek  uint64 `yaml:"seek,omitempty"`
	Ptr   uint64 `yaml:"ptr,omitempty"`
	Clock string `yaml:"clock,omitempty"`
	Sec   uint64 `yaml:"sec,omitempty"`
	Nsec  uint64 `yaml:"nsec,omitempty"`
	Time  uint64 `yaml:"time,omitempty"`
}

// ParseScript decodes a YAML list of steps.
func ParseScript(data []byte) ([]Step, error) {
	var steps []Step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return steps, nil
}

// ClockByName maps "realtime" and "monotonic" to SETCLOCK clock types.
func ClockByName(name string) (int32, bool) {
	switch strings.ToLower(name) {
	case "realtime", "":
		return ClockRealtime, true
	case "monotonic":
		return ClockMonotonic, true
	}
	return 0, false
}

// Encode writes the step through e.
func (s Step) Encode(e *Encoder) error {
	switch strings.ToLower(s.Op) {
	case "continue":
		return e.Continue()
	case "setheap":
		if s.Ptr == 0 {
			return fmt.Errorf("%w: setheap needs ptr", ErrBadStep)
		}
		return e.SetHeap(s.Ptr)
	case "open":
		if s.Path == "" {
			return fmt.Errorf("%w: open needs path", ErrBadStep)
		}
		return e.Open(s.Path, s.FD, s.Flags, s.Seek)
	case "close":
		return e.Close(s.FD)
	case "setclock":
		clock, ok := ClockByName(s.Clock)
		if !ok {
			return fmt.Errorf("%w: unknown clock %q", ErrBadStep, s.Clock)
		}
		return e.SetClock(clock, s.Sec, s.Nsec)
	case "settime":
		return e.SetTime(s.Time)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadStep, s.Op)
	}
}

// EncodeScript writes every step in order, stopping at the first error.
func EncodeScript(e *Encoder, steps []Step) error {
	for i, s := range steps {
		if err := s.Encode(e); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
