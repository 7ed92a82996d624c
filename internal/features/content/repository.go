// Package content — repository.go reads and writes items and the download log.
package content

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

// Repository gives access to content:{token}, contentrecipient:{token}:* and
// dl:{token}:* records.
type Repository struct {
	kv       store.KV
	attempts int
}

// NewRepository creates the content repository.
func NewRepository(kv store.KV, attempts int) *Repository {
	return &Repository{kv: kv, attempts: attempts}
}

// Get returns the item with its version or common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, token string) (*Item, store.Version, error) {
	it, ver, err := store.GetJSON[Item](ctx, r.kv, store.ContentKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, common.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return &it, ver, nil
}

// Create inserts a new item. It returns store.ErrVersionConflict when the
// token is taken.
func (r *Repository) Create(ctx context.Context, it *Item) error {
	_, err := store.PutJSON(ctx, r.kv, store.ContentKey(it.Token), it, store.Absent)
	return err
}

// Put writes it only if the stored version still equals expected.
func (r *Repository) Put(ctx context.Context, it *Item, expected store.Version) error {
	it.UpdatedAt = time.Now().UTC()
	_, err := store.PutJSON(ctx, r.kv, store.ContentKey(it.Token), it, expected)
	return err
}

// Remove deletes the item only if the stored version still equals expected.
func (r *Repository) Remove(ctx context.Context, token string, expected store.Version) error {
	err := r.kv.Delete(ctx, store.ContentKey(token), expected)
	if errors.Is(err, store.ErrNotFound) {
		return common.ErrNotFound
	}
	return err
}

// Mutate applies fn with optimistic retries.
func (r *Repository) Mutate(ctx context.Context, token string, fn func(*Item) error) (*Item, error) {
	it, err := store.Update(ctx, r.kv, store.ContentKey(token), r.attempts, func(it *Item) error {
		if err := fn(it); err != nil {
			return err
		}
		it.UpdatedAt = time.Now().UTC()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// List returns every item ordered by key.
func (r *Repository) List(ctx context.Context) ([]Item, error) {
	return store.ListJSON[Item](ctx, r.kv, store.PrefixContent, 0)
}

// LogDownload appends an entry to the download log.
func (r *Repository) LogDownload(ctx context.Context, e DownloadEntry) error {
	_, err := store.PutJSON(ctx, r.kv, store.DownloadLogKey(e.Token, e.At.UnixNano()), e, store.Any)
	return err
}

// Downloads returns the log of token, oldest first.
func (r *Repository) Downloads(ctx context.Context, token string, limit int) ([]DownloadEntry, error) {
	return store.ListJSON[DownloadEntry](ctx, r.kv, store.PrefixDownloadLog+token+":", limit)
}

// recipient is the record behind store.RecipientKey.
type recipient struct {
	Token  string    `json:"token"`
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}

// IsRecipient reports whether userID already received token.
func (r *Repository) IsRecipient(ctx context.Context, token string, userID int64) (bool, error) {
	_, err := r.kv.Get(ctx, store.RecipientKey(token, userID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddRecipient records the first delivery of token to userID. A second call
// for the same pair is a no-op.
func (r *Repository) AddRecipient(ctx context.Context, token string, userID int64, at time.Time) error {
	rec := recipient{Token: token, UserID: userID, At: at}
	_, err := store.PutJSON(ctx, r.kv, store.RecipientKey(token, userID), rec, store.Absent)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil
	}
	return err
}
