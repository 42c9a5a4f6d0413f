package crypto

import (
	"fmt"
	"strconv"
	"strings"
)

const suitePrefix = "PBKDF2-SHA256-"

// Suite pins the KDF cost and the codec used for one file. Its ID is stored
// with every record so files stay readable after the defaults change.
type Suite struct {
	Iterations int
	Codec      Codec
}

// NewSuite builds a suite from an iteration count and a codec name.
func NewSuite(iterations int, codec string) (Suite, error) {
	if iterations <= 0 {
		return Suite{}, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidParameter, iterations)
	}
	c, ok := LookupCodec(codec)
	if !ok {
		return Suite{}, fmt.Errorf("%w: %q", ErrUnknownSuite, codec)
	}
	return Suite{Iterations: iterations, Codec: c}, nil
}

// DefaultSuite is PBKDF2-SHA256 at DefaultIterations with XChaCha20-Poly1305.
func DefaultSuite() Suite {
	return Suite{Iterations: DefaultIterations, Codec: xchachaCodec{}}
}

// ID renders the suite as "PBKDF2-SHA256-<iterations>/<codec>".
func (s Suite) ID() string {
	return suitePrefix + strconv.Itoa(s.Iterations) + "/" + s.Codec.Name()
}

// ParseSuite is the inverse of Suite.ID.
func ParseSuite(id string) (Suite, error) {
	kdf, codec, ok := strings.Cut(id, "/")
	if !ok || !strings.HasPrefix(kdf, suitePrefix) {
		return Suite{}, fmt.Errorf("%w: %q", ErrUnknownSuite, id)
	}
	iterations, err := strconv.Atoi(strings.TrimPrefix(kdf, suitePrefix))
	if err != nil {
		return Suite{}, fmt.Errorf("%w: %q", ErrUnknownSuite, id)
	}
	return NewSuite(iterations, codec)
}
