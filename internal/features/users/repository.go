// Package users — repository.go reads and writes user records in the entity store.
package users

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

// Repository gives access to user:{id} records.
type Repository struct {
	kv       store.KV
	attempts int
}

// NewRepository creates the user repository. attempts bounds optimistic
// retries of Mutate.
func NewRepository(kv store.KV, attempts int) *Repository {
	return &Repository{kv: kv, attempts: attempts}
}

// Get returns the user or common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	u, _, err := store.GetJSON[User](ctx, r.kv, store.UserKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts u if the id is free. created is false when the user
// already existed; in that case the stored record is returned.
func (r *Repository) Create(ctx context.Context, u *User) (stored *User, created bool, err error) {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err = store.PutJSON(ctx, r.kv, store.UserKey(u.ID), u, store.Absent)
	if errors.Is(err, store.ErrVersionConflict) {
		existing, err := r.Get(ctx, u.ID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// Mutate applies fn to the stored user with a version check and retries
// on conflicts. fn must be free of side effects: it may run several times.
func (r *Repository) Mutate(ctx context.Context, id int64, fn func(*User) error) (*User, error) {
	u, err := store.Update(ctx, r.kv, store.UserKey(id), r.attempts, func(u *User) error {
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns up to limit users ordered by key.
func (r *Repository) List(ctx context.Context, limit int) ([]User, error) {
	return store.ListJSON[User](ctx, r.kv, store.PrefixUser, limit)
}
