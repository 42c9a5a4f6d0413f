package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq           INTEGER PRIMARY KEY,
	id            TEXT    NOT NULL UNIQUE,
	user_id       TEXT,
	action        TEXT    NOT NULL,
	result        TEXT    NOT NULL,
	ts            TEXT    NOT NULL,
	details       TEXT,
	previous_hash TEXT    NOT NULL,
	hash          TEXT    NOT NULL
);
`

// SQLiteStore persists the chain in an audit_log table. Timestamps are kept
// as RFC3339Nano text so they hash identically after a round trip.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("audit: database handle is nil")
	}
	if _, err := db.ExecContext(ctx, createAuditTable); err != nil {
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const selectAuditColumns = `SELECT seq, id, user_id, action, result, ts, details, previous_hash, hash FROM audit_log`

func (s *SQLiteStore) Tail(ctx context.Context) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, selectAuditColumns+` ORDER BY seq DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	var details sql.NullString
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	var user sql.NullString
	if e.UserID != nil {
		user = sql.NullString{String: *e.UserID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (seq, id, user_id, action, result, ts, details, previous_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.ID, user, e.Action, e.Result,
		e.Timestamp.UTC().Format(time.RFC3339Nano), details, e.PreviousHash, e.Hash,
	)
	if isConstraintErr(err) {
		return ErrSeqConflict
	}
	return err
}

func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectAuditColumns+` ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e       Entry
		user    sql.NullString
		ts      string
		details sql.NullString
	)
	if err := r.Scan(&e.Seq, &e.ID, &user, &e.Action, &e.Result, &ts, &details, &e.PreviousHash, &e.Hash); err != nil {
		return Entry{}, err
	}
	if user.Valid {
		u := user.String
		e.UserID = &u
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: entry %s: bad timestamp: %w", e.ID, err)
	}
	e.Timestamp = t.UTC()
	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return Entry{}, fmt.Errorf("audit: entry %s: bad details: %w", e.ID, err)
		}
	}
	return e, nil
}

func isConstraintErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
