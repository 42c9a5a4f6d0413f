package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps the chain in process memory. Used by tests and by
// deployments that run without a metadata database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Tail(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return Entry{}, false, nil
	}
	return cloneEntry(m.entries[len(m.entries)-1]), true, nil
}

func (m *MemoryStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Seq != int64(len(m.entries)) {
		return ErrSeqConflict
	}
	m.entries = append(m.entries, cloneEntry(e))
	return nil
}

func (m *MemoryStore) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// cloneEntry detaches the mutable parts of e from the stored copy.
func cloneEntry(e Entry) Entry {
	e.UserID = copyUser(e.UserID)
	e.Details = copyDetails(e.Details)
	return e
}
