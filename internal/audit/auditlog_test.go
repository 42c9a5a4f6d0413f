package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "audit.db")+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewSQLiteStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": openTestSQLite(t),
	}
}

func appendN(t *testing.T, c *Chain, n int) []Entry {
	t.Helper()
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		var user *string
		if i%3 != 0 {
			user = strPtr(fmt.Sprintf("user-%d", i%2))
		}
		e, err := c.Append(context.Background(), user, "file_encrypt", ResultSuccess, map[string]string{
			"file_id": fmt.Sprintf("f-%d", i),
			"size":    fmt.Sprint(i * 10),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

func TestAppendLinksEntries(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(st)
			entries := appendN(t, c, 10)
			if entries[0].PreviousHash != GenesisHash {
				t.Fatalf("first previous hash = %q", entries[0].PreviousHash)
			}
			for i := 1; i < len(entries); i++ {
				if entries[i].PreviousHash != entries[i-1].Hash {
					t.Fatalf("entry %d not linked to %d", i, i-1)
				}
				if entries[i].Seq != int64(i) {
					t.Fatalf("entry %d seq = %d", i, entries[i].Seq)
				}
			}
			if err := c.Verify(context.Background()); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if !c.Intact(context.Background()) {
				t.Fatal("Intact = false on untouched chain")
			}
		})
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	if err := New(NewMemoryStore()).Verify(context.Background()); err != nil {
		t.Fatalf("verify empty: %v", err)
	}
}

func TestPersistedEntriesRehash(t *testing.T) {
	st := openTestSQLite(t)
	c := New(st)
	appended := appendN(t, c, 4)
	loaded, err := st.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(loaded) != len(appended) {
		t.Fatalf("loaded %d entries, want %d", len(loaded), len(appended))
	}
	for i := range loaded {
		h, err := Hash(loaded[i])
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if h != appended[i].Hash {
			t.Fatalf("entry %d rehash mismatch after round trip", i)
		}
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	const n = 6
	tamper := map[string]func(e *Entry){
		"details": func(e *Entry) { e.Details["size"] = "999999" },
		"result":  func(e *Entry) { e.Result = ResultFailure },
		"user":    func(e *Entry) { e.UserID = strPtr("mallory") },
		"time":    func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"action":  func(e *Entry) { e.Action = "file_delete" },
	}
	for field, mutate := range tamper {
		for _, idx := range []int{0, 2, n - 1} {
			t.Run(fmt.Sprintf("%s@%d", field, idx), func(t *testing.T) {
				st := NewMemoryStore()
				c := New(st)
				entries := appendN(t, c, n)

				st.entries[idx].Details = copyDetails(st.entries[idx].Details)
				mutate(&st.entries[idx])

				err := c.Verify(context.Background())
				if !errors.Is(err, ErrIntegrityViolation) {
					t.Fatalf("err = %v, want ErrIntegrityViolation", err)
				}
				var broken *BrokenLinkError
				if !errors.As(err, &broken) {
					t.Fatalf("err %T is not *BrokenLinkError", err)
				}
				if broken.Index != idx || broken.EntryID != entries[idx].ID {
					t.Fatalf("broken at %d (%s), want %d (%s)", broken.Index, broken.EntryID, idx, entries[idx].ID)
				}
				if c.Intact(context.Background()) {
					t.Fatal("Intact = true on tampered chain")
				}
			})
		}
	}
}

func TestVerifyDetectsRemovedEntry(t *testing.T) {
	st := NewMemoryStore()
	c := New(st)
	appendN(t, c, 5)
	st.entries = append(st.entries[:2], st.entries[3:]...)

	var broken *BrokenLinkError
	if err := c.Verify(context.Background()); !errors.As(err, &broken) || broken.Index != 2 {
		t.Fatalf("err = %v, want break at index 2", err)
	}
}

func TestVerifyRejectsNonGenesisStart(t *testing.T) {
	st := NewMemoryStore()
	c := New(st)
	appendN(t, c, 3)
	st.entries = st.entries[1:]

	var broken *BrokenLinkError
	err := c.Verify(context.Background())
	if !errors.As(err, &broken) || broken.Index != 0 {
		t.Fatalf("err = %v, want break at index 0", err)
	}
	if !strings.Contains(broken.Error(), "genesis") {
		t.Fatalf("unexpected reason: %v", broken)
	}
}

func TestSQLiteTamperDetected(t *testing.T) {
	st := openTestSQLite(t)
	c := New(st)
	entries := appendN(t, c, 4)
	if _, err := st.db.Exec(`UPDATE audit_log SET result = ? WHERE seq = ?`, ResultFailure, 3); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	var broken *BrokenLinkError
	if err := c.Verify(context.Background()); !errors.As(err, &broken) || broken.EntryID != entries[3].ID {
		t.Fatalf("err = %v, want break at last entry", err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	const workers, perWorker = 8, 10
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(st)
			var wg sync.WaitGroup
			errs := make(chan error, workers*perWorker)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						_, err := c.Append(context.Background(), strPtr(fmt.Sprint(w)), "file_decrypt", ResultSuccess, nil)
						if err != nil {
							errs <- err
						}
					}
				}(w)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("append: %v", err)
			}
			entries, err := c.Entries(context.Background())
			if err != nil {
				t.Fatalf("entries: %v", err)
			}
			if len(entries) != workers*perWorker {
				t.Fatalf("got %d entries, want %d", len(entries), workers*perWorker)
			}
			if err := VerifyEntries(entries); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

// racingStore lets another writer slip in an entry before the first Append.
type racingStore struct {
	*MemoryStore
	rival *Chain
	once  sync.Once
}

func (r *racingStore) Append(ctx context.Context, e Entry) error {
	var err error
	r.once.Do(func() {
		_, err = r.rival.Append(ctx, nil, "vault_open", ResultSuccess, nil)
	})
	if err != nil {
		return err
	}
	return r.MemoryStore.Append(ctx, e)
}

func TestAppendRetriesOnSeqConflict(t *testing.T) {
	mem := NewMemoryStore()
	rs := &racingStore{MemoryStore: mem, rival: New(mem)}
	c := New(rs)

	e, err := c.Append(context.Background(), strPtr("alice"), "file_encrypt", ResultSuccess, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.Seq != 1 {
		t.Fatalf("seq = %d, want 1 after retry", e.Seq)
	}
	if err := c.Verify(context.Background()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestCanonicalForm(t *testing.T) {
	e := Entry{
		ID:           "id-1",
		Action:       "vault_open",
		Result:       ResultSuccess,
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 500, time.FixedZone("X", 3600)),
		Details:      map[string]string{"b": "<2>", "a": "1"},
		PreviousHash: GenesisHash,
	}
	got, err := Canonical(e)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `["v1","id-1",null,"vault_open","success","2024-05-01T11:00:00.0000005Z",{"a":"1","b":"<2>"},"` + GenesisHash + `"]`
	if string(got) != want {
		t.Fatalf("canonical =\n%s\nwant\n%s", got, want)
	}
}

func TestAppendCopiesDetails(t *testing.T) {
	c := New(NewMemoryStore())
	d := map[string]string{"k": "v"}
	if _, err := c.Append(context.Background(), nil, "vault_open", ResultSuccess, d); err != nil {
		t.Fatalf("append: %v", err)
	}
	d["k"] = "changed"
	if err := c.Verify(context.Background()); err != nil {
		t.Fatalf("caller mutation leaked into chain: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	c := New(st)
	if _, err := c.Append(context.Background(), strPtr("u1"), "encrypt", ResultSuccess, map[string]string{"file_id": "f1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	tail, _, err := st.Tail(context.Background())
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	tail.Details["file_id"] = "other"
	*tail.UserID = "u2"

	entries, err := st.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	entries[0].Details["filename"] = "added"

	if err := c.Verify(context.Background()); err != nil {
		t.Fatalf("reader mutation leaked into store: %v", err)
	}
	again, _ := st.Entries(context.Background())
	if again[0].Details["file_id"] != "f1" || len(again[0].Details) != 1 || *again[0].UserID != "u1" {
		t.Fatalf("stored entry changed: %+v", again[0])
	}
}

func TestManyChainsShareOneStore(t *testing.T) {
	const chains, perChain = 12, 10
	st := openTestSQLite(t)

	var wg sync.WaitGroup
	errs := make(chan error, chains*perChain)
	for i := 0; i < chains; i++ {
		wg.Add(1)
		go func(c *Chain) {
			defer wg.Done()
			for j := 0; j < perChain; j++ {
				if _, err := c.Append(context.Background(), nil, "vault_open", ResultSuccess, nil); err != nil {
					errs <- err
				}
			}
		}(New(st))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	entries, err := st.Entries(context.Background())
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != chains*perChain {
		t.Fatalf("got %d entries, want %d", len(entries), chains*perChain)
	}
	if err := VerifyEntries(entries); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestAppendGivesUpWhenContextEnds(t *testing.T) {
	c := New(conflictingStore{NewMemoryStore()})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Append(ctx, nil, "vault_open", ResultSuccess, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

// conflictingStore reports every append as lost to another writer.
type conflictingStore struct{ *MemoryStore }

func (conflictingStore) Append(context.Context, Entry) error { return ErrSeqConflict }
