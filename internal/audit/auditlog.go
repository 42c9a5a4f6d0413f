// Package audit keeps an append-only, hash-chained log of vault operations.
//
// Each entry stores the hash of its predecessor and its own hash. The hash is
// lowercase hex SHA-256 over the canonical form, the compact JSON array
//
//	["v1", id, userId|null, action, result, timestamp, details|null, previousHash]
//
// with the timestamp in RFC3339Nano UTC, details as an object with sorted
// keys and HTML escaping disabled. The first entry's previous hash is
// GenesisHash.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	canonicalVersion = "v1"
	maxConflictDelay = 50 * time.Millisecond
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	ErrIntegrityViolation = errors.New("audit: chain integrity violation")
	// ErrSeqConflict is returned by a Store when another writer already
	// appended at the requested sequence number.
	ErrSeqConflict = errors.New("audit: sequence already taken")
)

type Entry struct {
	Seq          int64             `json:"seq"`
	ID           string            `json:"id"`
	UserID       *string           `json:"user_id,omitempty"`
	Action       string            `json:"action"`
	Result       string            `json:"result"`
	Timestamp    time.Time         `json:"timestamp"`
	Details      map[string]string `json:"details,omitempty"`
	PreviousHash string            `json:"previous_hash"`
	Hash         string            `json:"hash"`
}

// Store persists entries in sequence order. Append must fail with
// ErrSeqConflict if e.Seq is already present.
type Store interface {
	Tail(ctx context.Context) (Entry, bool, error)
	Append(ctx context.Context, e Entry) error
	Entries(ctx context.Context) ([]Entry, error)
}

// BrokenLinkError reports the first entry at which verification failed.
type BrokenLinkError struct {
	Index   int
	EntryID string
	Reason  string
}

func (e *BrokenLinkError) Error() string {
	return fmt.Sprintf("audit: chain broken at entry %d (%s): %s", e.Index, e.EntryID, e.Reason)
}

func (e *BrokenLinkError) Is(target error) bool { return target == ErrIntegrityViolation }

// Chain appends to and verifies a Store. Appends through one Chain are
// serialized; appends racing from other processes are caught by the store's
// sequence check and retried against the new tail until ctx is done.
type Chain struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

func New(store Store) *Chain {
	return &Chain{store: store, now: time.Now}
}

// Append records one event. userID is nil for system events.
func (c *Chain) Append(ctx context.Context, userID *string, action, result string, details map[string]string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		tail, ok, err := c.store.Tail(ctx)
		if err != nil {
			return Entry{}, fmt.Errorf("audit: read tail: %w", err)
		}
		e := Entry{
			ID:           uuid.NewString(),
			UserID:       copyUser(userID),
			Action:       action,
			Result:       result,
			Timestamp:    c.now().UTC(),
			Details:      copyDetails(details),
			PreviousHash: GenesisHash,
		}
		if ok {
			e.Seq = tail.Seq + 1
			e.PreviousHash = tail.Hash
		}
		e.Hash, err = Hash(e)
		if err != nil {
			return Entry{}, err
		}
		err = c.store.Append(ctx, e)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrSeqConflict) {
			return Entry{}, fmt.Errorf("audit: append: %w", err)
		}
		if err := conflictDelay(ctx, attempt); err != nil {
			return Entry{}, fmt.Errorf("audit: append after %d sequence conflicts: %w", attempt, err)
		}
	}
}

// conflictDelay waits a jittered, growing interval before the next attempt
// so writers sharing a store do not retry in lockstep.
func conflictDelay(ctx context.Context, attempt int) error {
	d := min(time.Duration(attempt)*time.Millisecond, maxConflictDelay)
	d = d/2 + rand.N(d/2+1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Verify walks the chain oldest to newest. It returns nil when intact and a
// *BrokenLinkError (matching ErrIntegrityViolation) naming the first bad
// entry otherwise.
func (c *Chain) Verify(ctx context.Context) error {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		return fmt.Errorf("audit: load entries: %w", err)
	}
	return VerifyEntries(entries)
}

// Intact reports whether Verify succeeds.
func (c *Chain) Intact(ctx context.Context) bool {
	return c.Verify(ctx) == nil
}

func (c *Chain) Entries(ctx context.Context) ([]Entry, error) {
	return c.store.Entries(ctx)
}

// VerifyEntries checks a chain already loaded in sequence order.
func VerifyEntries(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.PreviousHash != prev {
			reason := "previous hash does not match predecessor"
			if i == 0 {
				reason = "first entry does not start from genesis"
			}
			return &BrokenLinkError{Index: i, EntryID: e.ID, Reason: reason}
		}
		sum, err := Hash(e)
		if err != nil {
			return &BrokenLinkError{Index: i, EntryID: e.ID, Reason: err.Error()}
		}
		if sum != e.Hash {
			return &BrokenLinkError{Index: i, EntryID: e.ID, Reason: "entry hash mismatch"}
		}
		prev = sum
	}
	return nil
}

// Canonical returns the byte string that Hash digests.
func Canonical(e Entry) ([]byte, error) {
	var user any
	if e.UserID != nil {
		user = *e.UserID
	}
	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	fields := []any{
		canonicalVersion,
		e.ID,
		user,
		e.Action,
		e.Result,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		details,
		e.PreviousHash,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("audit: canonicalize: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func Hash(e Entry) (string, error) {
	b, err := Canonical(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func copyUser(u *string) *string {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

func copyDetails(d map[string]string) map[string]string {
	if len(d) == 0 {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
