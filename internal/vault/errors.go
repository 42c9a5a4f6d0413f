package vault

import (
	"context"
	"errors"

	"github.com/hamzasheedi/secure-hub/internal/audit"
	cr "github.com/hamzasheedi/secure-hub/internal/crypto"
	"github.com/hamzasheedi/secure-hub/internal/storage"
)

var (
	ErrInvalidParameter    = cr.ErrInvalidParameter
	ErrPayloadTooLarge     = errors.New("vault: payload too large")
	ErrInsufficientStorage = storage.ErrInsufficientStorage
	ErrBackendUnavailable  = storage.ErrBackendUnavailable
	ErrDecryptionFailed    = cr.ErrDecryptionFailed
	// ErrNotFoundOrForbidden is returned both for unknown files and for
	// files owned by someone else.
	ErrNotFoundOrForbidden = errors.New("vault: file not found")
	ErrCorruptEnvelope     = cr.ErrCorruptEnvelope
	ErrIntegrityViolation  = audit.ErrIntegrityViolation
)

// Error kinds returned by Kind.
const (
	KindInvalidParameter    = "invalid_parameter"
	KindPayloadTooLarge     = "payload_too_large"
	KindInsufficientStorage = "insufficient_storage"
	KindBackendUnavailable  = "backend_unavailable"
	KindDecryptionFailed    = "decryption_failed"
	KindNotFoundOrForbidden = "not_found_or_forbidden"
	KindCorruptEnvelope     = "corrupt_envelope"
	KindIntegrityViolation  = "integrity_violation"
	KindCanceled            = "canceled"
	KindInternal            = "internal"
)

// Kind maps err to a stable name that callers can switch on without
// parsing messages. It returns "" for a nil error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFoundOrForbidden):
		return KindNotFoundOrForbidden
	case errors.Is(err, ErrPayloadTooLarge):
		return KindPayloadTooLarge
	case errors.Is(err, ErrInsufficientStorage):
		return KindInsufficientStorage
	case errors.Is(err, ErrDecryptionFailed):
		return KindDecryptionFailed
	case errors.Is(err, ErrCorruptEnvelope):
		return KindCorruptEnvelope
	case errors.Is(err, ErrIntegrityViolation):
		return KindIntegrityViolation
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, storage.ErrInvalidRef):
		return KindInvalidParameter
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
