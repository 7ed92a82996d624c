package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultAttempts bounds optimistic retries in Update.
const DefaultAttempts = 5

// GetJSON loads key into a value of type T and returns its version.
func GetJSON[T any](ctx context.Context, kv KV, key string) (T, Version, error) {
	var v T
	rec, err := kv.Get(ctx, key)
	if err != nil {
		return v, 0, err
	}
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		return v, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, rec.Version, nil
}

// PutJSON encodes v and writes it with the expected version.
func PutJSON(ctx context.Context, kv KV, key string, v any, expected Version) (Version, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, data, expected)
}

// ListJSON decodes every record under prefix. Records that fail to decode
// are skipped so one corrupt entry does not hide the rest.
func ListJSON[T any](ctx context.Context, kv KV, prefix string, limit int) ([]T, error) {
	recs, err := kv.List(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Update performs a versioned read-modify-write of key.
//
// fn receives the freshly read value and mutates it in place; any error it
// returns aborts the update with no write. On ErrVersionConflict the whole
// cycle, including fn and its guard checks, runs again up to attempts times,
// so validation always happens against the value being replaced.
func Update[T any](ctx context.Context, kv KV, key string, attempts int, fn func(*T) error) (T, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var zero T
	for i := 0; i < attempts; i++ {
		v, ver, err := GetJSON[T](ctx, kv, key)
		if err != nil {
			return zero, err
		}
		if err := fn(&v); err != nil {
			return zero, err
		}
		_, err = PutJSON(ctx, kv, key, v, ver)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return zero, err
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("update %s: %w after %d attempts", key, ErrVersionConflict, attempts)
}

// Upsert is Update that starts from init when the key does not exist.
func Upsert[T any](ctx context.Context, kv KV, key string, attempts int, init func() T, fn func(*T) error) (T, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var zero T
	for i := 0; i < attempts; i++ {
		v, ver, err := GetJSON[T](ctx, kv, key)
		switch {
		case errors.Is(err, ErrNotFound):
			v, ver = init(), Absent
		case err != nil:
			return zero, err
		}
		if err := fn(&v); err != nil {
			return zero, err
		}
		_, err = PutJSON(ctx, kv, key, v, ver)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("upsert %s: %w after %d attempts", key, ErrVersionConflict, attempts)
}
