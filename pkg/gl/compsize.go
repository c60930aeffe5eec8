package gl

import (
	"errors"
	"fmt"
)

// GL enumerants used by the supported call subset.
const (
	ArrayBuffer        uint32 = 0x8892
	ElementArrayBuffer uint32 = 0x8893
	Texture2D          uint32 = 0x0DE1
	StaticDraw         uint32 = 0x88E4
	DynamicDraw        uint32 = 0x88E8
	BufferSize         uint32 = 0x8764
	ColorBufferBit     uint32 = 0x4000
	DepthBufferBit     uint32 = 0x0100
	Triangles          uint32 = 0x0004
)

// Component types.
const (
	Byte          uint32 = 0x1400
	UnsignedByte  uint32 = 0x1401
	Short         uint32 = 0x1402
	UnsignedShort uint32 = 0x1403
	Int           uint32 = 0x1404
	UnsignedInt   uint32 = 0x1405
	Float         uint32 = 0x1406
	Bytes2        uint32 = 0x1407
	Bytes3        uint32 = 0x1408
	Bytes4        uint32 = 0x1409
	Double        uint32 = 0x140A
	HalfFloat     uint32 = 0x140B
)

// Packed pixel types.
const (
	UnsignedByte332          uint32 = 0x8032
	UnsignedByte233Rev       uint32 = 0x8362
	UnsignedShort565         uint32 = 0x8363
	UnsignedShort565Rev      uint32 = 0x8364
	UnsignedShort4444        uint32 = 0x8033
	UnsignedShort4444Rev     uint32 = 0x8365
	UnsignedShort5551        uint32 = 0x8034
	UnsignedShort1555Rev     uint32 = 0x8366
	UnsignedInt8888          uint32 = 0x8035
	UnsignedInt8888Rev       uint32 = 0x8367
	UnsignedInt1010102       uint32 = 0x8036
	UnsignedInt2101010Rev    uint32 = 0x8368
	UnsignedInt248           uint32 = 0x84FA
	UnsignedInt5999Rev       uint32 = 0x8C3E
	Float32UnsignedInt248Rev uint32 = 0x8DAD
)

// Pixel formats.
const (
	ColorIndex     uint32 = 0x1900
	StencilIndex   uint32 = 0x1901
	DepthComponent uint32 = 0x1902
	Red            uint32 = 0x1903
	Green          uint32 = 0x1904
	Blue           uint32 = 0x1905
	Alpha          uint32 = 0x1906
	RGB            uint32 = 0x1907
	RGBA           uint32 = 0x1908
	Luminance      uint32 = 0x1909
	LuminanceAlpha uint32 = 0x190A
	BGR            uint32 = 0x80E0
	BGRA           uint32 = 0x80E1
	RG             uint32 = 0x8227
	RGInteger      uint32 = 0x8228
	DepthStencil   uint32 = 0x84F9
	RedInteger     uint32 = 0x8D94
	GreenInteger   uint32 = 0x8D95
	BlueInteger    uint32 = 0x8D96
	AlphaInteger   uint32 = 0x8D97
	RGBInteger     uint32 = 0x8D98
	RGBAInteger    uint32 = 0x8D99
	BGRInteger     uint32 = 0x8D9A
	BGRAInteger    uint32 = 0x8D9B
)

// ErrUnsupportedFormat is returned for a type or format whose size is not
// known. Such payloads are never sent with a guessed size.
var ErrUnsupportedFormat = errors.New("unsupported pixel format or type")

// EnumSize returns the size in bytes of one component of type typ.
func EnumSize(typ uint32) (int, error) {
	switch typ {
	case Byte, UnsignedByte:
		return 1, nil
	case Short, UnsignedShort, Bytes2, HalfFloat:
		return 2, nil
	case Bytes3:
		return 3, nil
	case Int, UnsignedInt, Float, Bytes4:
		return 4, nil
	case Double:
		return 8, nil
	}
	return 0, fmt.Errorf("%w: type %#x", ErrUnsupportedFormat, typ)
}

// PixelSize returns the size in bytes of one pixel of the given format and
// type. Packed types have the same size whatever the format.
func PixelSize(format, typ uint32) (int, error) {
	switch typ {
	case UnsignedByte332, UnsignedByte233Rev:
		return 1, nil
	case UnsignedShort565, UnsignedShort565Rev,
		UnsignedShort4444, UnsignedShort4444Rev,
		UnsignedShort5551, UnsignedShort1555Rev:
		return 2, nil
	case UnsignedInt8888, UnsignedInt8888Rev,
		UnsignedInt1010102, UnsignedInt2101010Rev,
		UnsignedInt248, UnsignedInt5999Rev:
		return 4, nil
	case Float32UnsignedInt248Rev:
		return 8, nil
	}

	component, err := EnumSize(typ)
	if err != nil {
		return 0, err
	}

	var n int
	switch format {
	case Red, Green, Blue, RedInteger, GreenInteger, BlueInteger,
		DepthComponent, StencilIndex, DepthStencil, ColorIndex,
		Alpha, AlphaInteger, Luminance:
		n = 1
	case RG, RGInteger, LuminanceAlpha:
		n = 2
	case RGB, BGR, RGBInteger, BGRInteger:
		n = 3
	case RGBA, BGRA, RGBAInteger, BGRAInteger:
		n = 4
	default:
		return 0, fmt.Errorf("%w: format %#x", ErrUnsupportedFormat, format)
	}
	return component * n, nil
}

// ImageSize returns the size of a tightly packed width x height image.
func ImageSize(format, typ uint32, width, height int32) (int, error) {
	if width < 0 || height < 0 {
		return 0, fmt.Errorf("negative image size %dx%d", width, height)
	}
	px, err := PixelSize(format, typ)
	if err != nil {
		return 0, err
	}
	return px * int(width) * int(height), nil
}
