//go:build linux && (amd64 || arm64)

// Package agent assembles the in-process side of the tracer protocol: the
// snapshot region, the pause engine, the virtual clocks, GL batching and the
// windowing mock, all sharing one configuration and logger.
package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/willibrandon/ChronoTracee/pkg/clock"
	"github.com/willibrandon/ChronoTracee/pkg/config"
	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/gl"
	"github.com/willibrandon/ChronoTracee/pkg/pause"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
	"github.com/willibrandon/ChronoTracee/pkg/rawsys"
	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
	"github.com/willibrandon/ChronoTracee/pkg/version"
	"github.com/willibrandon/ChronoTracee/pkg/x11"
)

// Agent is the tracee-side runtime.
type Agent struct {
	cfg    config.Config
	log    *slog.Logger
	store  *snapshot.Store
	engine *pause.Engine
	events *protocol.Writer
	clock  *clock.Clock
	glBuf  *gl.CommandBuffer
	gl     *gl.Context
	x11    *x11.Mock
}

type options struct {
	log       *slog.Logger
	kernel    pause.Kernel
	announcer pause.Announcer
}

// Option configures New.
type Option func(*options)

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithKernel replaces the system call layer used to apply commands.
func WithKernel(k pause.Kernel) Option {
	return func(o *options) {
		o.kernel = k
	}
}

// WithAnnouncer overrides the announce mode from the configuration.
func WithAnnouncer(a pause.Announcer) Option {
	return func(o *options) {
		o.announcer = a
	}
}

// NewLogger returns the logger described by cfg. It writes straight to
// descriptor 2 so that log output never depends on the hosted program's
// stdio state.
func NewLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	h := slog.NewTextHandler(rawsys.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", "lss"), nil
}

// New initializes every component from cfg.
func New(cfg config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		l, err := NewLogger(cfg)
		if err != nil {
			return nil, err
		}
		o.log = l
	}
	if o.kernel == nil {
		o.kernel = pause.RawKernel
	}
	if o.announcer == nil {
		o.announcer = pause.SignalAnnouncer
		if cfg.Announce == config.AnnounceNone {
			o.announcer = pause.NoAnnouncer
		}
	}

	a := &Agent{cfg: cfg, log: o.log}
	a.store = snapshot.NewStore(o.log.With("component", "snapshot"))
	st := a.store.Init()

	a.engine = pause.NewEngine(
		protocol.NewReader(cfg.CommandFD),
		a.store,
		pause.WithKernel(o.kernel),
		pause.WithAnnouncer(o.announcer),
		pause.WithLogger(o.log.With("component", "pause")),
	)
	a.events = protocol.NewWriter(cfg.EventFD)
	a.clock = clock.New(a.store)

	a.glBuf = gl.NewCommandBuffer(&st.GL, cfg.GLWriteFD, cfg.GLReadFD, cfg.GLBufferSize, o.log.With("component", "gl"))
	a.glBuf.Init()
	a.gl = gl.NewContext(a.glBuf)

	a.x11 = x11.NewMock(&st.X11, a.events, a.engine,
		x11.WithScreenSize(int32(cfg.ScreenWidth), int32(cfg.ScreenHeight)),
		x11.WithGLFlusher(a.glBuf),
		x11.WithLogger(o.log.With("component", "x11")),
	)

	a.log.Info("agent initialized", append(version.Get().LogAttrs(),
		"command_fd", cfg.CommandFD,
		"event_fd", cfg.EventFD,
		"announce", cfg.Announce,
	)...)
	return a, nil
}

// Pause stops at a pause point until the tracer continues.
func (a *Agent) Pause() {
	a.engine.Pause()
}

// TestCommand reports v to the tracer as a TEST event and pauses, so the
// tracer can act on the value before the tracee goes on.
func (a *Agent) TestCommand(v uint32) {
	a.events.Event(protocol.CmdTest, v)
	a.engine.Pause()
}

// Config returns the configuration the agent was built from.
func (a *Agent) Config() config.Config { return a.cfg }

// Snapshot returns the snapshot store.
func (a *Agent) Snapshot() *snapshot.Store { return a.store }

// Engine returns the pause engine.
func (a *Agent) Engine() *pause.Engine { return a.engine }

// Clock returns the virtual clocks.
func (a *Agent) Clock() *clock.Clock { return a.clock }

// GL returns the GL call encoder.
func (a *Agent) GL() *gl.Context { return a.gl }

// X11 returns the windowing mock.
func (a *Agent) X11() *x11.Mock { return a.x11 }

// Close releases the agent's mappings. A hosted process never calls it.
func (a *Agent) Close() error {
	if err := a.glBuf.Close(); err != nil {
		return fmt.Errorf("close gl buffer: %w", err)
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return nil
}

var (
	defaultOnce  sync.Once
	defaultAgent *Agent
)

// Default returns the process-wide agent, creating it from config.Load on
// first use. A configuration error is fatal: there is no caller to report it
// to.
func Default() *Agent {
	defaultOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			fatal.Failf("could not load configuration: %v", err)
		}
		a, err := New(cfg)
		if err != nil {
			fatal.Failf("could not initialize agent: %v", err)
		}
		defaultAgent = a
	})
	return defaultAgent
}

// Pause pauses the process-wide agent.
func Pause() { Default().Pause() }

// TestCommand sends v through the process-wide agent.
func TestCommand(v uint32) { Default().TestCommand(v) }
