//go:build linux && (amd64 || arm64)

package snapshot

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Image file layout:
//
//	magic    [8]byte  "LSSSNAP1"
//	version  uint32   snapshot Version of the enclosed state
//	flags    uint32   compression type in the low byte, flagSigned, flagEncrypted
//	length   uint32   payload length
//	payload  []byte
//	mac      [32]byte HMAC-SHA256 over header and payload, when signed
var imageMagic = [8]byte{'L', 'S', 'S', 'S', 'N', 'A', 'P', '1'}

const (
	imageHeaderSize = 20
	flagSigned      = 1 << 8
	flagEncrypted   = 1 << 9
	macSize         = sha256.Size
	maxPayload      = 1 << 20
)

var (
	// ErrBadImage is returned for data that is not an encoded image.
	ErrBadImage = errors.New("not a snapshot image")
	// ErrIntegrity is returned when an image fails HMAC verification.
	ErrIntegrity = errors.New("snapshot image integrity check failed")
)

// ImageOptions configures EncodeImage and DecodeImage.
type ImageOptions struct {
	Compression CompressionType
	// IntegrityKey enables HMAC-SHA256 signing when non-empty. Decoding a
	// signed image requires the same key.
	IntegrityKey []byte
	// EncryptionKey enables AES-GCM encryption of the payload when non-empty.
	EncryptionKey []byte
}

// DefaultImageOptions returns zstd compression without signing.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{Compression: DefaultCompression}
}

// NewImageOptions applies opts on top of DefaultImageOptions.
func NewImageOptions(opts ...func(*ImageOptions)) ImageOptions {
	o := DefaultImageOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithIntegrityKey enables signing with key
func WithIntegrityKey(key []byte) func(*ImageOptions) {
	return func(o *ImageOptions) {
		o.IntegrityKey = key
	}
}

// EncodeImage writes img, as returned by Store.Image, to w.
func EncodeImage(w io.Writer, img []byte, opts ImageOptions) error {
	if len(img) != Size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrImageSize, len(img), Size)
	}
	payload := compress(img, opts.Compression)

	flags := uint32(opts.Compression)
	if len(opts.EncryptionKey) > 0 {
		sealed, err := encrypt(payload, opts.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encrypt snapshot image: %w", err)
		}
		payload = sealed
		flags |= flagEncrypted
	}
	if len(opts.IntegrityKey) > 0 {
		flags |= flagSigned
	}

	out := make([]byte, 0, imageHeaderSize+len(payload)+macSize)
	out = append(out, imageMagic[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(binary.NativeEndian.Uint64(img)))
	out = binary.LittleEndian.AppendUint32(out, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	if flags&flagSigned != 0 {
		out = append(out, sign(out, opts.IntegrityKey)...)
	}

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write snapshot image: %w", err)
	}
	return nil
}

// DecodeImage reads an image written by EncodeImage and returns the raw state
// bytes, ready for Store.Restore or Decode.
func DecodeImage(r io.Reader, opts ImageOptions) ([]byte, error) {
	var hdr [imageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadImage, err)
	}
	if [8]byte(hdr[:8]) != imageMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadImage)
	}
	version := binary.LittleEndian.Uint32(hdr[8:])
	flags := binary.LittleEndian.Uint32(hdr[12:])
	length := binary.LittleEndian.Uint32(hdr[16:])
	if uint64(version) != Version {
		return nil, fmt.Errorf("%w: image version %d", ErrIncompatibleVersion, version)
	}
	if CompressionType(flags&0xff) > ZstdCompression {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrBadImage, flags&0xff)
	}
	if length > maxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrBadImage, length)
	}

	body := make([]byte, imageHeaderSize+int(length))
	copy(body, hdr[:])
	if _, err := io.ReadFull(r, body[imageHeaderSize:]); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadImage, err)
	}

	if flags&flagSigned != 0 {
		if len(opts.IntegrityKey) == 0 {
			return nil, fmt.Errorf("%w: image is signed but no key was given", ErrIntegrity)
		}
		mac := make([]byte, macSize)
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, fmt.Errorf("%w: mac: %v", ErrBadImage, err)
		}
		if !hmac.Equal(mac, sign(body, opts.IntegrityKey)) {
			return nil, ErrIntegrity
		}
	} else if len(opts.IntegrityKey) > 0 {
		return nil, fmt.Errorf("%w: image is not signed", ErrIntegrity)
	}

	payload := body[imageHeaderSize:]
	if flags&flagEncrypted != 0 {
		if len(opts.EncryptionKey) == 0 {
			return nil, fmt.Errorf("%w: image is encrypted but no key was given", ErrBadImage)
		}
		plain, err := decrypt(payload, opts.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot image: %w", err)
		}
		payload = plain
	}

	img, err := decompress(payload, CompressionType(flags&0xff))
	if errors.Is(err, ErrImageSize) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadImage, err)
	}
	if len(img) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrImageSize, len(img), Size)
	}
	return img, nil
}

func sign(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
