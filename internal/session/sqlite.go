package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteStore implements the Store interface using SQLite as the backing
// database. It provides durable, ACID-compliant session storage suitable for
// single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS upload_sessions (
			token                TEXT PRIMARY KEY,
			owner_account_id     TEXT NOT NULL,
			category             TEXT NOT NULL,
			expected_chunk_count INTEGER NOT NULL,
			file_extension       TEXT NOT NULL DEFAULT '',
			thumbnail_hash       TEXT,
			completed            INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner
			ON upload_sessions(owner_account_id, category);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `token, owner_account_id, category, expected_chunk_count,
	file_extension, thumbnail_hash, completed, created_at`

// scanRecord scans a single session row. Returns (nil, nil) on sql.ErrNoRows.
func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var thumb sql.NullString
	var completed int
	var createdAt string
	err := row.Scan(&rec.Token, &rec.OwnerAccountID, &rec.Category,
		&rec.ExpectedChunkCount, &rec.FileExtension, &thumb, &completed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}
	rec.ThumbnailHash = thumb.String
	rec.Completed = completed != 0
	if t, perr := time.Parse(timeFormat, createdAt); perr == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM upload_sessions WHERE token = ?`, token)
	return scanRecord(row)
}

func (s *SQLiteStore) GetByOwner(ctx context.Context, ownerAccountID, category string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM upload_sessions
		 WHERE owner_account_id = ? AND category = ?
		 ORDER BY created_at DESC LIMIT 1`, ownerAccountID, category)
	return scanRecord(row)
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	var thumb sql.NullString
	if rec.ThumbnailHash != "" {
		thumb = sql.NullString{String: rec.ThumbnailHash, Valid: true}
	}
	completed := 0
	if rec.Completed {
		completed = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_sessions
			(token, owner_account_id, category, expected_chunk_count,
			 file_extension, thumbnail_hash, completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.OwnerAccountID, rec.Category, rec.ExpectedChunkCount,
		rec.FileExtension, thumb, completed, createdAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("inserting session %q: %w", rec.Token, err)
	}
	return nil
}

func (s *SQLiteStore) SetCompleted(ctx context.Context, token string, completed bool) error {
	val := 0
	if completed {
		val = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_sessions SET completed = ? WHERE token = ?`, val, token)
	if err != nil {
		return fmt.Errorf("updating completed for %q: %w", token, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", token)
	}
	return nil
}

func (s *SQLiteStore) SetThumbnailHash(ctx context.Context, token, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_sessions SET thumbnail_hash = ? WHERE token = ?`, hash, token)
	if err != nil {
		return fmt.Errorf("updating thumbnail hash for %q: %w", token, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", token)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, token string) error {
	// Idempotent: deleting an absent session is not an error.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("deleting session %q: %w", token, err)
	}
	return nil
}
