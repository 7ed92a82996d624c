// Package postgres — queries.go implements store.KV on top of kv_entities.
// Every write bumps the row version in the same statement that checks it, so
// a conditional write is a single round trip without explicit transactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

const (
	queryGet = `SELECT value, version, updated_at FROM kv_entities WHERE key = $1`

	queryPutAny = `
		INSERT INTO kv_entities (key, value, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, version = kv_entities.version + 1, updated_at = NOW()
		RETURNING version`

	queryPutAbsent = `
		INSERT INTO kv_entities (key, value, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		RETURNING version`

	queryPutVersion = `
		UPDATE kv_entities
		SET value = $2, version = version + 1, updated_at = NOW()
		WHERE key = $1 AND version = $3
		RETURNING version`

	queryDeleteAny     = `DELETE FROM kv_entities WHERE key = $1`
	queryDeleteVersion = `DELETE FROM kv_entities WHERE key = $1 AND version = $2`
	queryExists        = `SELECT EXISTS(SELECT 1 FROM kv_entities WHERE key = $1)`

	queryList = `
		SELECT key, value, version, updated_at FROM kv_entities
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key
		LIMIT $2`
)

// KV is the PostgreSQL entity store.
type KV struct {
	db *pgxpool.Pool
}

var _ store.KV = (*KV)(nil)

// NewKV wraps an existing pool.
func NewKV(db *pgxpool.Pool) *KV {
	return &KV{db: db}
}

func (k *KV) Get(ctx context.Context, key string) (store.Record, error) {
	rec := store.Record{Key: key}
	var version int64
	err := k.db.QueryRow(ctx, queryGet, key).Scan(&rec.Value, &version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, classify("get "+key, err)
	}
	rec.Version = store.Version(version)
	return rec, nil
}

func (k *KV) Put(ctx context.Context, key string, value []byte, expected store.Version) (store.Version, error) {
	var (
		version int64
		err     error
	)
	switch expected {
	case store.Any:
		err = k.db.QueryRow(ctx, queryPutAny, key, value).Scan(&version)
	case store.Absent:
		err = k.db.QueryRow(ctx, queryPutAbsent, key, value).Scan(&version)
	default:
		err = k.db.QueryRow(ctx, queryPutVersion, key, value, int64(expected)).Scan(&version)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return 0, store.ErrVersionConflict
		}
		return 0, classify("put "+key, err)
	}
	return store.Version(version), nil
}

func (k *KV) Delete(ctx context.Context, key string, expected store.Version) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == store.Any {
		tag, err = k.db.Exec(ctx, queryDeleteAny, key)
	} else {
		tag, err = k.db.Exec(ctx, queryDeleteVersion, key, int64(expected))
	}
	if err != nil {
		return classify("delete "+key, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing deleted: tell a missing key apart from a stale version.
	var exists bool
	if err := k.db.QueryRow(ctx, queryExists, key).Scan(&exists); err != nil {
		return classify("delete "+key, err)
	}
	if exists {
		return store.ErrVersionConflict
	}
	return store.ErrNotFound
}

func (k *KV) List(ctx context.Context, prefix string, limit int) ([]store.Record, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := k.db.Query(ctx, queryList, escapeLike(prefix)+"%", lim)
	if err != nil {
		return nil, classify("list "+prefix, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			rec     store.Record
			version int64
			updated time.Time
		)
		if err := rows.Scan(&rec.Key, &rec.Value, &version, &updated); err != nil {
			return nil, classify("list "+prefix, err)
		}
		rec.Version = store.Version(version)
		rec.UpdatedAt = updated
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list "+prefix, err)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// classify marks connection-level and transient server failures as
// ErrStoreUnavailable; everything else is returned wrapped as is.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.TooManyConnections,
			pgErr.Code == pgerrcode.AdminShutdown:
			return common.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	// Network errors and pool exhaustion surface as non-PgError values.
	return common.Unavailable(op, err)
}
