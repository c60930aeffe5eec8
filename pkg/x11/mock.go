//go:build linux && (amd64 || arm64)

package x11

import (
	"io"
	"log/slog"
	"math"
	"unsafe"

	"github.com/willibrandon/ChronoTracee/pkg/fatal"
	"github.com/willibrandon/ChronoTracee/pkg/protocol"
)

// Fixed values handed to the client.
const (
	DisplayFD     int32    = 499
	RootWindowID  Window   = 0x100
	AppWindowID   Window   = 0x200
	DefaultVisual VisualID = 102
	DummyColormap Colormap = 123
	DummyContext  Context  = 1
	TrueColor     int32    = 4
	DefaultWidth  int32    = 1920
	DefaultHeight int32    = 1080
	vendorName             = "software"
	displayName            = "a:b"
)

// Pauser blocks the tracee until the tracer lets it continue.
type Pauser interface {
	Pause()
}

// Flusher pushes batched GL commands to the tracer.
type Flusher interface {
	Flush()
}

// Mock implements the Xlib and GLX entry points over a Data block. It supports
// exactly one display, one window and one context; opening a second of any of
// them is fatal.
type Mock struct {
	data   *Data
	events *protocol.Writer
	pauser Pauser
	gl     Flusher
	width  int32
	height int32
	log    *slog.Logger
}

// Option configures a Mock.
type Option func(*Mock)

// WithScreenSize sets the resolution reported for the single screen.
func WithScreenSize(width, height int32) Option {
	return func(m *Mock) {
		m.width, m.height = width, height
	}
}

// WithGLFlusher makes SwapBuffers flush pending GL commands before pausing.
func WithGLFlusher(f Flusher) Option {
	return func(m *Mock) {
		m.gl = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mock) {
		m.log = l
	}
}

// NewMock returns a Mock storing its state in data and reporting window
// events on events.
func NewMock(data *Data, events *protocol.Writer, pauser Pauser, opts ...Option) *Mock {
	m := &Mock{
		data:   data,
		events: events,
		pauser: pauser,
		width:  DefaultWidth,
		height: DefaultHeight,
		log:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func addr[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// Link points every internal pointer field at this Data block. It must run
// whenever the block moves, e.g. after a snapshot restore.
func (d *Data) Link() {
	d.Display.Vendor = addr(&d.Vendor[0])
	d.Display.DisplayName = addr(&d.DisplayName[0])
	d.Display.Screens = addr(&d.Screen)
	d.Screen.Display = addr(&d.Display)
	d.Screen.Depths = addr(&d.ScreenDepth)
	d.Screen.RootVisual = addr(&d.ScreenVisual)
	d.ScreenDepth.Visuals = addr(&d.ScreenVisual)
	d.VisualInfo.Visual = addr(&d.ScreenVisual)
}

func (m *Mock) initData() {
	d := m.data
	d.Display = Display{}
	d.Screen = Screen{}
	d.ScreenDepth = Depth{}
	d.ScreenVisual = Visual{}
	d.VisualInfo = VisualInfo{}
	d.Vendor = [16]byte{}
	d.DisplayName = [8]byte{}
	copy(d.Vendor[:], vendorName)
	copy(d.DisplayName[:], displayName)
	d.RootWindow = RootWindowID

	d.Display.FD = DisplayFD
	d.Display.DefaultScreen = 0
	d.Display.NScreens = 1
	d.Display.ProtoMajorVersion = 11
	d.Display.ProtoMinorVersion = 0
	d.Display.Release = 1

	d.Screen.Root = RootWindowID
	d.Screen.Width = m.width
	d.Screen.Height = m.height
	d.Screen.MWidth = 1
	d.Screen.MHeight = 1
	d.Screen.NDepths = 1
	d.Screen.RootDepth = 24
	d.Screen.Cmap = DummyColormap
	d.Screen.WhitePixel = 0xffffff
	d.Screen.BlackPixel = 0

	d.ScreenDepth.Depth = 24
	d.ScreenDepth.NVisuals = 1

	d.ScreenVisual.VisualID = DefaultVisual
	d.ScreenVisual.Class = TrueColor
	d.ScreenVisual.RedMask = 0xff0000
	d.ScreenVisual.GreenMask = 0x00ff00
	d.ScreenVisual.BlueMask = 0x0000ff
	d.ScreenVisual.BitsPerRGB = 8
	d.ScreenVisual.MapEntries = 256

	d.VisualInfo.VisualID = DefaultVisual
	d.VisualInfo.Screen = 0
	d.VisualInfo.Depth = 24
	d.VisualInfo.Class = TrueColor
	d.VisualInfo.RedMask = 0xff0000
	d.VisualInfo.GreenMask = 0x00ff00
	d.VisualInfo.BlueMask = 0x0000ff
	d.VisualInfo.ColormapSize = 256
	d.VisualInfo.BitsPerRGB = 8

	d.Link()
}

// OpenDisplay is XOpenDisplay. The name is ignored; there is only one display.
func (m *Mock) OpenDisplay(name string) *Display {
	if m.data.Has(DisplayOpened) {
		fatal.Fail("opening multiple displays is unsupported")
	}
	m.initData()
	m.data.Flags |= DisplayOpened
	m.log.Debug("display opened", "name", name, "width", m.width, "height", m.height)
	return &m.data.Display
}

// CloseDisplay is XCloseDisplay.
func (m *Mock) CloseDisplay(d *Display) int32 {
	m.data.Flags &^= DisplayOpened
	m.log.Debug("display closed")
	return 0
}

// DefaultScreen returns the screen the display's default_screen refers to.
func (m *Mock) DefaultScreen(d *Display) *Screen {
	return (*Screen)(unsafe.Pointer(d.Screens + uintptr(d.DefaultScreen)*unsafe.Sizeof(Screen{})))
}

// CreateWindow is XCreateWindow. It announces the window size to the tracer
// and returns the fixed application window id.
func (m *Mock) CreateWindow(d *Display, parent Window, x, y int32, width, height uint32) Window {
	if d != &m.data.Display {
		fatal.Fail("unknown display passed to XCreateWindow")
	}
	if m.data.Has(WindowOpened) {
		fatal.Fail("opening more than one window is unsupported")
	}

	m.events.Event(protocol.CmdOpenWindow, width, height)
	m.data.AppWindow = AppWindowID
	m.data.Flags |= WindowOpened
	m.log.Debug("window opened", "width", width, "height", height)
	return AppWindowID
}

// DestroyWindow is XDestroyWindow.
func (m *Mock) DestroyWindow(d *Display, w Window) int32 {
	m.events.Event(protocol.CmdCloseWindow)
	m.data.AppWindow = 0
	m.data.Flags &^= WindowOpened
	m.log.Debug("window closed")
	return 0
}

// MapWindow is XMapWindow. The virtual window is always mapped.
func (m *Mock) MapWindow(d *Display, w Window) int32 { return 0 }

// UnmapWindow is XUnmapWindow.
func (m *Mock) UnmapWindow(d *Display, w Window) int32 { return 0 }

// CreateColormap is XCreateColormap. Only RGBA visuals exist, so the colormap
// is a constant.
func (m *Mock) CreateColormap(d *Display, w Window, v *Visual, alloc int32) Colormap {
	return DummyColormap
}

// SetNormalHints is XSetNormalHints; hints have no effect.
func (m *Mock) SetNormalHints(d *Display, w Window, hints unsafe.Pointer) int32 { return 0 }

// SetStandardProperties is XSetStandardProperties; properties have no effect.
func (m *Mock) SetStandardProperties(d *Display, w Window, windowName, iconName string) int32 {
	return 0
}

// Free is XFree. Nothing handed out by the mock is heap allocated.
func (m *Mock) Free(p unsafe.Pointer) int32 { return 0 }

// ChooseVisual is glXChooseVisual. Every attribute list gets the one visual.
func (m *Mock) ChooseVisual(d *Display, screen int32, attribs []int32) *VisualInfo {
	return &m.data.VisualInfo
}

// CreateContext is glXCreateContext and returns a dummy non-nil handle.
func (m *Mock) CreateContext(d *Display, vi *VisualInfo, share Context, direct bool) Context {
	if m.data.Has(ContextOpened) {
		fatal.Fail("creating more than one context is unsupported")
	}
	m.data.Flags |= ContextOpened
	m.log.Debug("context created")
	return DummyContext
}

// DestroyContext is glXDestroyContext.
func (m *Mock) DestroyContext(d *Display, ctx Context) {
	m.data.Flags &^= ContextOpened
	m.log.Debug("context destroyed")
}

// MakeCurrent is glXMakeCurrent. The single context is always current.
func (m *Mock) MakeCurrent(d *Display, drawable Window, ctx Context) bool {
	return true
}

// QueryExtensionsString is glXQueryExtensionsString. No extensions are offered.
func (m *Mock) QueryExtensionsString(d *Display, screen int32) string {
	return ""
}

// GetProcAddress is glXGetProcAddressARB. Extension lookup always fails.
func (m *Mock) GetProcAddress(name string) uintptr {
	return 0
}

// SwapBuffers is glXSwapBuffers: the end of a frame, and the point where the
// tracer captures it. Pending GL commands are flushed before pausing.
func (m *Mock) SwapBuffers(d *Display, drawable Window) {
	if m.gl != nil {
		m.gl.Flush()
	}
	m.pauser.Pause()
}
