package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS vault_records (
	id               TEXT    PRIMARY KEY,
	owner_id         TEXT    NOT NULL,
	original_name    TEXT    NOT NULL,
	plain_size       INTEGER NOT NULL,
	storage_location TEXT    NOT NULL,
	storage_ref      TEXT    NOT NULL,
	cipher_suite_id  TEXT    NOT NULL,
	created_at       TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vault_records_owner ON vault_records(owner_id, created_at);
`

type SQLiteRecordStore struct {
	db *sql.DB
}

func NewSQLiteRecordStore(ctx context.Context, db *sql.DB) (*SQLiteRecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is nil")
	}
	if _, err := db.ExecContext(ctx, createRecordsTable); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteRecordStore{db: db}, nil
}

func (s *SQLiteRecordStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_records (id, owner_id, original_name, plain_size, storage_location, storage_ref, cipher_suite_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.OriginalName, r.PlainSize, string(r.StorageLocation), r.StorageRef,
		r.CipherSuiteID, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return ErrRecordExists
	}
	return err
}

const selectRecordColumns = `SELECT id, owner_id, original_name, plain_size, storage_location, storage_ref, cipher_suite_id, created_at FROM vault_records`

func (s *SQLiteRecordStore) Get(ctx context.Context, id string) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecordColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return r, err
}

func (s *SQLiteRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecordColumns+` WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Text timestamps of differing precision do not sort lexically.
	sortRecords(out)
	return out, nil
}

func (s *SQLiteRecordStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r       Record
		loc     string
		created string
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.OriginalName, &r.PlainSize, &loc, &r.StorageRef, &r.CipherSuiteID, &created); err != nil {
		return Record{}, err
	}
	r.StorageLocation = Location(loc)
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: bad created_at: %w", r.ID, err)
	}
	r.CreatedAt = t.UTC()
	return r, nil
}
