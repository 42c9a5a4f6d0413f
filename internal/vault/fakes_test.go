package vault

import (
	"context"
	"errors"
	"sync"

	"github.com/hamzasheedi/secure-hub/internal/audit"
	"github.com/hamzasheedi/secure-hub/internal/storage"
)

type memBlobStore struct {
	mu         sync.Mutex
	loc        storage.Location
	blobs      map[string][]byte
	failDelete bool
}

func newMemBlobStore(loc storage.Location) *memBlobStore {
	return &memBlobStore{loc: loc, blobs: map[string][]byte{}}
}

func (m *memBlobStore) Location() storage.Location { return m.loc }

func (m *memBlobStore) Put(ctx context.Context, hint string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hint]; ok {
		return "", errors.New("exists")
	}
	m.blobs[hint] = append([]byte(nil), data...)
	return hint, nil
}

func (m *memBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memBlobStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return storage.ErrBackendUnavailable
	}
	delete(m.blobs, ref)
	return nil
}

type failingBlobStore struct{ err error }

func (f *failingBlobStore) Location() storage.Location { return storage.Durable }
func (f *failingBlobStore) Put(context.Context, string, []byte) (string, error) {
	return "", f.err
}
func (f *failingBlobStore) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f *failingBlobStore) Delete(context.Context, string) error       { return f.err }

// hangingBlobStore blocks until the caller's context ends.
type hangingBlobStore struct{}

func (hangingBlobStore) Location() storage.Location { return storage.Durable }
func (hangingBlobStore) Put(ctx context.Context, _ string, _ []byte) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (hangingBlobStore) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (hangingBlobStore) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingRecordStore struct{ storage.RecordStore }

func (failingRecordStore) Insert(context.Context, storage.Record) error {
	return errors.New("disk I/O error")
}

type undeletableRecordStore struct{ storage.RecordStore }

func (undeletableRecordStore) Delete(context.Context, string) error {
	return errors.New("disk I/O error")
}

type brokenAuditStore struct{}

func (brokenAuditStore) Tail(context.Context) (audit.Entry, bool, error) { return audit.Entry{}, false, nil }
func (brokenAuditStore) Append(context.Context, audit.Entry) error {
	return errors.New("audit store offline")
}
func (brokenAuditStore) Entries(context.Context) ([]audit.Entry, error) { return nil, nil }

// tamperingAuditStore rewrites the result of every stored entry on read.
type tamperingAuditStore struct {
	*audit.MemoryStore
}

func (t *tamperingAuditStore) Entries(ctx context.Context) ([]audit.Entry, error) {
	entries, err := t.MemoryStore.Entries(ctx)
	for i := range entries {
		entries[i].Result = "tampered"
	}
	return entries, err
}
