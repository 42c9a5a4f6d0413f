package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func recordStores(t *testing.T) map[string]RecordStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "meta", "vault.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sq, err := NewSQLiteRecordStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteRecordStore: %v", err)
	}
	out := map[string]RecordStore{
		"memory": NewMemoryRecordStore(),
		"sqlite": sq,
	}
	if ms := mongoRecordStoreForTest(t); ms != nil {
		out["mongo"] = ms
	}
	return out
}

func sampleRecord(id, owner string, created time.Time) Record {
	return Record{
		ID:              id,
		OwnerID:         owner,
		OriginalName:    id + ".txt",
		PlainSize:       9,
		StorageLocation: Ephemeral,
		StorageRef:      id + ".blob",
		CipherSuiteID:   "PBKDF2-SHA256-390000/XCHACHA20-POLY1305",
		CreatedAt:       created,
	}
}

func TestRecordStores(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	for name, rs := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			prefix := name + "-" + time.Now().Format("150405.000000000") + "-"
			alice, bob := prefix+"alice", prefix+"bob"

			recs := []Record{
				sampleRecord(prefix+"r3", alice, base.Add(2*time.Second)),
				sampleRecord(prefix+"r1", alice, base),
				sampleRecord(prefix+"r2", alice, base.Add(time.Millisecond)),
				sampleRecord(prefix+"b1", bob, base),
			}
			for _, r := range recs {
				if err := rs.Insert(ctx, r); err != nil {
					t.Fatalf("insert %s: %v", r.ID, err)
				}
			}
			if err := rs.Insert(ctx, recs[0]); !errors.Is(err, ErrRecordExists) {
				t.Fatalf("duplicate insert err = %v, want ErrRecordExists", err)
			}

			got, err := rs.Get(ctx, prefix+"r1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !sameRecord(got, recs[1]) {
				t.Fatalf("get = %+v, want %+v", got, recs[1])
			}

			list, err := rs.ListByOwner(ctx, alice)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 3 || list[0].ID != prefix+"r1" || list[1].ID != prefix+"r2" || list[2].ID != prefix+"r3" {
				t.Fatalf("list order wrong: %+v", list)
			}
			empty, err := rs.ListByOwner(ctx, prefix+"nobody")
			if err != nil || empty == nil || len(empty) != 0 {
				t.Fatalf("list for unknown owner = %v, %v", empty, err)
			}

			if err := rs.Delete(ctx, prefix+"r2"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := rs.Get(ctx, prefix+"r2"); !errors.Is(err, ErrRecordNotFound) {
				t.Fatalf("get deleted err = %v", err)
			}
			if err := rs.Delete(ctx, prefix+"r2"); !errors.Is(err, ErrRecordNotFound) {
				t.Fatalf("double delete err = %v", err)
			}
		})
	}
}

func TestOpenSQLitePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perm.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm()&0o077 != 0 {
		t.Fatalf("database mode = %v, want owner-only", st.Mode().Perm())
	}
}

func sameRecord(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	return a == b
}
