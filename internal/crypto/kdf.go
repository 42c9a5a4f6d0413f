package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2 cost used for new files.
	DefaultIterations = 390000
	// KeySize is the length of every derived key.
	KeySize = 32
	// SaltSize is the fixed width of the salt that prefixes an envelope.
	SaltSize = 32
)

// DeriveKey stretches password into a KeySize key with PBKDF2-HMAC-SHA256.
// The result is deterministic for a given (password, salt, iterations).
func DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidParameter, iterations)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required", ErrInvalidParameter)
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}

// NewSalt returns SaltSize fresh random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
