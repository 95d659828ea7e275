package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the slot as one row of a key/value table in a SQLite
// file, for hosts that already ship a local database.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite store")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS slots (
		name  TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create slots table")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(entry FailedRequestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin append")
	}
	defer tx.Rollback()

	entries, err := s.load(ctx, tx)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encode failed requests")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO slots (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		FailedRequestsSlot, string(data)); err != nil {
		return errors.Wrap(err, "store failed requests")
	}
	return errors.Wrap(tx.Commit(), "commit append")
}

func (s *SQLiteStore) Load() ([]FailedRequestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(context.Background(), s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer) ([]FailedRequestEntry, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?`, FailedRequestsSlot).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return []FailedRequestEntry{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load failed requests")
	}
	return decodeEntries([]byte(value))
}
