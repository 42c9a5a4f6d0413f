package crypto

import (
	"sort"
	"strings"
)

// Codec seals and opens a payload under a KeySize key. Implementations
// carry their own nonce inside the returned blob and must return
// ErrDecryptionFailed, and nothing else, for any failure in Open.
type Codec interface {
	Name() string
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, blob []byte) ([]byte, error)
}

const (
	CodecXChaCha20Poly1305 = "XCHACHA20-POLY1305"
	CodecAES256GCM         = "AES256-GCM"
	CodecAES256CTRHMAC     = "AES256-CTR-HMAC-SHA256"
)

var codecs = map[string]Codec{
	CodecXChaCha20Poly1305: xchachaCodec{},
	CodecAES256GCM:         gcmCodec{},
	CodecAES256CTRHMAC:     ctrHMACCodec{},
}

// LookupCodec resolves a codec by name, case-insensitively.
func LookupCodec(name string) (Codec, bool) {
	c, ok := codecs[strings.ToUpper(strings.TrimSpace(name))]
	return c, ok
}

// CodecNames lists the registered codec names in sorted order.
func CodecNames() []string {
	out := make([]string, 0, len(codecs))
	for name := range codecs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
