//go:build linux && (amd64 || arm64)

// Package x11 impersonates the parts of Xlib and GLX a client program touches.
//
// Client programs are linked against the mock instead of libX11 and read the
// Display and Screen structures by raw offset through macros such as
// DefaultScreen and RootWindow, so the types below reproduce Xlib's LP64
// layout field for field. Pointer members are stored as uintptr values that
// point into the same snapshot region; that memory is never managed by the Go
// collector.
package x11

// LayoutVersion identifies the structure layout below. Bump it when any field
// moves so saved snapshots with an older layout are rejected.
const LayoutVersion = 1

// XID-derived handle types.
type (
	Window   uint64
	Colormap uint64
	VisualID uint64
	Context  uintptr
)

// Display mirrors struct _XDisplay (Xlib.h, XLIB_ILLEGAL_ACCESS view).
//
//	offset  field
//	     0  ext_data
//	    16  fd
//	    24  proto_major_version
//	    28  proto_minor_version
//	    32  vendor
//	    80  byte_order
//	   116  release
//	   136  qlen
//	   216  display_name
//	   224  default_screen
//	   228  nscreens
//	   232  screens
//	   288  xdefaults
//	   296  (size)
type Display struct {
	ExtData           uintptr
	Private1          uintptr
	FD                int32
	Private2          int32
	ProtoMajorVersion int32
	ProtoMinorVersion int32
	Vendor            uintptr
	Private3          uint64
	Private4          uint64
	Private5          uint64
	Private6          int32
	_                 int32
	ResourceAlloc     uintptr
	ByteOrder         int32
	BitmapUnit        int32
	BitmapPad         int32
	BitmapBitOrder    int32
	NFormats          int32
	_                 int32
	PixmapFormat      uintptr
	Private8          int32
	Release           int32
	Private9          uintptr
	Private10         uintptr
	QLen              int32
	_                 int32
	LastRequestRead   uint64
	Request           uint64
	Private11         uintptr
	Private12         uintptr
	Private13         uintptr
	Private14         uintptr
	MaxRequestSize    uint32
	_                 int32
	DB                uintptr
	Private15         uintptr
	DisplayName       uintptr
	DefaultScreen     int32
	NScreens          int32
	Screens           uintptr
	MotionBuffer      uint64
	Private16         uint64
	MinKeycode        int32
	MaxKeycode        int32
	Private17         uintptr
	Private18         uintptr
	Private19         int32
	_                 int32
	XDefaults         uintptr
}

// Screen mirrors Xlib's Screen.
//
//	offset  field
//	     8  display
//	    16  root
//	    24  width, height
//	    40  ndepths
//	    48  depths
//	    56  root_depth
//	    64  root_visual
//	    88  white_pixel
//	    96  black_pixel
//	   120  root_input_mask
//	   128  (size)
type Screen struct {
	ExtData       uintptr
	Display       uintptr
	Root          Window
	Width         int32
	Height        int32
	MWidth        int32
	MHeight       int32
	NDepths       int32
	_             int32
	Depths        uintptr
	RootDepth     int32
	_             int32
	RootVisual    uintptr
	DefaultGC     uintptr
	Cmap          Colormap
	WhitePixel    uint64
	BlackPixel    uint64
	MaxMaps       int32
	MinMaps       int32
	BackingStore  int32
	SaveUnders    int32
	RootInputMask int64
}

// Depth mirrors Xlib's Depth (16 bytes).
type Depth struct {
	Depth    int32
	NVisuals int32
	Visuals  uintptr
}

// Visual mirrors Xlib's Visual (56 bytes).
type Visual struct {
	ExtData    uintptr
	VisualID   VisualID
	Class      int32
	_          int32
	RedMask    uint64
	GreenMask  uint64
	BlueMask   uint64
	BitsPerRGB int32
	MapEntries int32
}

// VisualInfo mirrors XVisualInfo (64 bytes).
type VisualInfo struct {
	Visual       uintptr
	VisualID     VisualID
	Screen       int32
	Depth        int32
	Class        int32
	_            int32
	RedMask      uint64
	GreenMask    uint64
	BlueMask     uint64
	ColormapSize int32
	BitsPerRGB   int32
}

// Flags recorded in Data.Flags.
const (
	DisplayOpened uint32 = 1 << iota
	WindowOpened
	ContextOpened
)

// Data is the windowing state kept in the snapshot region. Its address must
// stay fixed while a display is open because the client holds pointers into it.
type Data struct {
	Flags        uint32
	_            uint32
	Display      Display
	RootWindow   Window
	AppWindow    Window
	Screen       Screen
	ScreenDepth  Depth
	ScreenVisual Visual
	VisualInfo   VisualInfo
	Vendor       [16]byte
	DisplayName  [8]byte
}

// Has reports whether every bit in f is set.
func (d *Data) Has(f uint32) bool {
	return d.Flags&f == f
}
