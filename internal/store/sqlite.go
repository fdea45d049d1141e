package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lookup_cache (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batch_checkpoints (
	batch_id   TEXT PRIMARY KEY,
	last_index INTEGER NOT NULL,
	succeeded  INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lookup_cache_expires_at ON lookup_cache(expires_at);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetCache returns the entry for key, or nil when absent or expired.
func (s *SQLiteStore) GetCache(ctx context.Context, key string) (*CacheEntry, error) {
	var payload string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM lookup_cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().UTC(),
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache")
	}
	return &CacheEntry{Key: key, Payload: []byte(payload), ExpiresAt: expiresAt}, nil
}

// PutCache upserts a cache entry.
func (s *SQLiteStore) PutCache(ctx context.Context, entry CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lookup_cache (key, payload, expires_at, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			cached_at = excluded.cached_at`,
		entry.Key, string(entry.Payload), entry.ExpiresAt.UTC(), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put cache")
}

// DeleteCache removes one entry. Deleting a missing key is not an error.
func (s *SQLiteStore) DeleteCache(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lookup_cache WHERE key = ?`, key)
	return eris.Wrap(err, "sqlite: delete cache")
}

// PruneExpired removes expired entries and returns how many were deleted.
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lookup_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune expired")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune rows affected")
	}
	return n, nil
}

// GetCheckpoint returns the checkpoint for a batch, or nil when absent.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, batchID string) (*Checkpoint, error) {
	var cp Checkpoint
	cp.BatchID = batchID
	err := s.db.QueryRowContext(ctx,
		`SELECT last_index, succeeded, failed, updated_at FROM batch_checkpoints WHERE batch_id = ?`,
		batchID,
	).Scan(&cp.LastIndex, &cp.Succeeded, &cp.Failed, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get checkpoint")
	}
	return &cp, nil
}

// PutCheckpoint upserts batch progress.
func (s *SQLiteStore) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_checkpoints (batch_id, last_index, succeeded, failed, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (batch_id) DO UPDATE SET
			last_index = excluded.last_index,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			updated_at = excluded.updated_at`,
		cp.BatchID, cp.LastIndex, cp.Succeeded, cp.Failed, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put checkpoint")
}
