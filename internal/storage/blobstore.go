// Package storage holds ciphertext blobs and file records.
//
// Blobs are opaque envelopes addressed by a backend-specific reference.
// Records are the metadata rows that point at them.
package storage

import (
	"context"
	"errors"
	"time"
)

// Location says which backend holds a blob.
type Location string

const (
	Durable   Location = "durable"
	Ephemeral Location = "ephemeral"
)

var (
	ErrNotFound = errors.New("storage: blob not found")
	// ErrBackendUnavailable marks a backend that could not be reached or
	// answered with an error. The vault falls back on it.
	ErrBackendUnavailable  = errors.New("storage: backend unavailable")
	ErrInsufficientStorage = errors.New("storage: insufficient storage")
	ErrInvalidRef          = errors.New("storage: invalid blob reference")
	ErrRecordNotFound      = errors.New("storage: record not found")
	ErrRecordExists        = errors.New("storage: record already exists")
)

type BlobStore interface {
	// Put stores data and returns the reference to read it back. hint is
	// used to build the reference and must be a plain name.
	Put(ctx context.Context, hint string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error
	Location() Location
}

type Record struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	OriginalName    string    `json:"original_name"`
	PlainSize       int64     `json:"size"`
	StorageLocation Location  `json:"storage_location"`
	StorageRef      string    `json:"-"`
	CipherSuiteID   string    `json:"cipher_suite"`
	CreatedAt       time.Time `json:"created_at"`
}

type RecordStore interface {
	Insert(ctx context.Context, r Record) error
	// Get returns ErrRecordNotFound when id is unknown.
	Get(ctx context.Context, id string) (Record, error)
	// ListByOwner returns the owner's records oldest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
	Delete(ctx context.Context, id string) error
}

// RequiredHeadroom is the free space an encrypt of size bytes needs: room
// for the plaintext, the envelope and a scratch copy, plus buffer.
func RequiredHeadroom(size, buffer int64) uint64 {
	if size < 0 {
		size = 0
	}
	if buffer < 0 {
		buffer = 0
	}
	return 3*uint64(size) + uint64(buffer)
}
