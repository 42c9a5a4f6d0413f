// Package crypto implements password-based file envelopes.
//
// An envelope is [salt(32)||blob]. The key is PBKDF2-HMAC-SHA256(password,
// salt, iterations) truncated to 32 bytes, and blob is the output of the
// codec named by the file's suite ID, e.g.
// "PBKDF2-SHA256-390000/XCHACHA20-POLY1305" gives blob = [nonce(24)||ct||tag].
package crypto

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("crypto: invalid parameter")
	ErrUnknownSuite     = fmt.Errorf("%w: unknown cipher suite", ErrInvalidParameter)
	// ErrDecryptionFailed covers wrong passwords, failed tags and truncated
	// ciphertext alike.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	ErrCorruptEnvelope  = errors.New("crypto: envelope shorter than salt")
)

// SealEnvelope encrypts plaintext under a key derived from password and a
// fresh salt, returning salt||blob.
func SealEnvelope(password, plaintext []byte, suite Suite) ([]byte, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(password, salt, suite.Iterations)
	if err != nil {
		return nil, err
	}
	_ = lockMemory(key)
	defer release(key)

	blob, err := suite.Codec.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	out := make([]byte, 0, len(salt)+len(blob))
	out = append(out, salt...)
	out = append(out, blob...)
	return out, nil
}

// OpenEnvelope reverses SealEnvelope. It never returns partial plaintext.
func OpenEnvelope(password, envelope []byte, suite Suite) ([]byte, error) {
	salt, blob, err := SplitEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(password, salt, suite.Iterations)
	if err != nil {
		return nil, err
	}
	_ = lockMemory(key)
	defer release(key)

	pt, err := suite.Codec.Open(key, blob)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// SplitEnvelope returns the salt and codec blob of an envelope.
func SplitEnvelope(envelope []byte) (salt, blob []byte, err error) {
	if len(envelope) < SaltSize {
		return nil, nil, ErrCorruptEnvelope
	}
	return envelope[:SaltSize], envelope[SaltSize:], nil
}

func release(key []byte) {
	Zero(key)
	_ = unlockMemory(key)
}
