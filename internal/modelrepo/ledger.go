package modelrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Register the pure-Go sqlite driver under the name "sqlite".
	_ "modernc.org/sqlite"
)

// Ledger records files whose sha256 was verified, keyed by path and
// invalidated by size or mtime changes, so multi-GB models are not rehashed
// on every start.
type Ledger struct {
	db *sql.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS verified_files (
	path        TEXT PRIMARY KEY,
	size        INTEGER NOT NULL,
	mtime_unix  INTEGER NOT NULL,
	sha256      TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	verified_at INTEGER NOT NULL
)`

// OpenLedger opens or creates the ledger database at path. The parent
// directory must exist.
func OpenLedger(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ledger: parent directory %q does not exist", dir)
	}
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping %q: %w", path, err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Verified reports whether path was verified with sha and has not changed
// since.
func (l *Ledger) Verified(ctx context.Context, path, sha string, fi os.FileInfo) (bool, error) {
	var size, mtime int64
	var got string
	err := l.db.QueryRowContext(ctx,
		`SELECT size, mtime_unix, sha256 FROM verified_files WHERE path = ?`, path).Scan(&size, &mtime, &got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: lookup %s: %w", path, err)
	}
	return strings.EqualFold(got, sha) && size == fi.Size() && mtime == fi.ModTime().Unix(), nil
}

// Record stores a successful verification.
func (l *Ledger) Record(ctx context.Context, modelID, path, sha string, fi os.FileInfo) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO verified_files (path, size, mtime_unix, sha256, model_id, verified_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	size = excluded.size,
	mtime_unix = excluded.mtime_unix,
	sha256 = excluded.sha256,
	model_id = excluded.model_id,
	verified_at = excluded.verified_at`,
		path, fi.Size(), fi.ModTime().Unix(), sha, modelID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", path, err)
	}
	return nil
}

// Forget drops any record for path.
func (l *Ledger) Forget(ctx context.Context, path string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM verified_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("ledger: forget %s: %w", path, err)
	}
	return nil
}

// Count returns the number of verified files.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verified_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}
