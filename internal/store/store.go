// Package store persists lookup-cache entries and batch checkpoints in a
// local SQLite database.
package store

import (
	"context"
	"time"
)

// CacheEntry is one persisted lookup result.
type CacheEntry struct {
	Key       string
	Payload   []byte
	ExpiresAt time.Time
}

// Checkpoint records batch progress so an interrupted run resumes where it
// stopped instead of restarting.
type Checkpoint struct {
	BatchID   string
	LastIndex int
	Succeeded int
	Failed    int
	UpdatedAt time.Time
}

// Store is the persistence interface used by the cache and the batch runner.
type Store interface {
	Migrate(ctx context.Context) error

	GetCache(ctx context.Context, key string) (*CacheEntry, error)
	PutCache(ctx context.Context, entry CacheEntry) error
	DeleteCache(ctx context.Context, key string) error
	PruneExpired(ctx context.Context) (int64, error)

	GetCheckpoint(ctx context.Context, batchID string) (*Checkpoint, error)
	PutCheckpoint(ctx context.Context, cp Checkpoint) error

	Close() error
}
