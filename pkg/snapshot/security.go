//go:build linux && (amd64 || arm64)

package snapshot

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const nonceSize = 12

// ErrKeySize is returned for an encryption key that is not an AES key size
var ErrKeySize = errors.New("encryption key must be 16, 24, or 32 bytes long")

// WithEncryption enables AES-GCM encryption of the image payload with key
func WithEncryption(key []byte) func(*ImageOptions) {
	return func(o *ImageOptions) {
		o.EncryptionKey = key
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encrypt seals data with AES-GCM and prepends the nonce
func encrypt(data, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize, nonceSize+len(data)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

// decrypt reverses encrypt
func decrypt(data, key []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, errors.New("encrypted data too short")
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}
