package crypto

import (
	"crypto/rand"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// xchachaCodec lays out blobs as [nonce(24)||ciphertext||tag].
type xchachaCodec struct{}

func (xchachaCodec) Name() string { return CodecXChaCha20Poly1305 }

func (xchachaCodec) Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

func (xchachaCodec) Open(key, blob []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(blob) < xchacha.NonceSizeX+aead.Overhead() {
		return nil, ErrDecryptionFailed
	}
	nonce := blob[:xchacha.NonceSizeX]
	pt, err := aead.Open(nil, nonce, blob[xchacha.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}
