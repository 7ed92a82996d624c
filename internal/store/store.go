// Package store is the entity store every feature persists through.
//
// The contract is deliberately small: single-key get, put, delete and prefix
// listing. There are no multi-key transactions. Every record carries a
// version that increases on each write, and writes may be conditioned on it;
// that is the only concurrency primitive the features rely on.
package store

import (
	"context"
	"errors"
	"time"
)

// Version is the monotonically increasing revision of a record.
type Version int64

const (
	// Any makes a write unconditional.
	Any Version = -1
	// Absent makes a write succeed only if the key does not exist yet.
	Absent Version = 0
)

var (
	// ErrNotFound — the key does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict — the expected version did not match.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Record is a stored value with its metadata.
type Record struct {
	Key       string
	Value     []byte
	Version   Version
	UpdatedAt time.Time
}

// KV is implemented by every backend (memory, postgres, redis, mongo).
type KV interface {
	// Get returns ErrNotFound when the key is missing.
	Get(ctx context.Context, key string) (Record, error)
	// Put writes value if the current version matches expected
	// (see Any and Absent) and returns the new version.
	Put(ctx context.Context, key string, value []byte, expected Version) (Version, error)
	// Delete removes the key if the current version matches expected.
	Delete(ctx context.Context, key string, expected Version) error
	// List returns up to limit records whose keys start with prefix,
	// ordered by key. A limit <= 0 means no limit.
	List(ctx context.Context, prefix string, limit int) ([]Record, error)
}
