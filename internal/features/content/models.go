// Package content stores token-gated items and enforces their download quota.
package content

import (
	"time"

	"serotonyl.ru/filegate-bot/internal/events"
)

// Item is stored under content:{token}.
type Item struct {
	Token      string      `json:"token"`
	OwnerID    int64       `json:"owner_id"`
	Kind       events.Kind `json:"kind"`
	PayloadRef string      `json:"payload_ref"` // file_id, URL or the text body
	FileName   string      `json:"file_name,omitempty"`
	Text       string      `json:"text,omitempty"` // caption

	Price         int64 `json:"price"`
	MaxDownloads  int64 `json:"max_downloads"` // 0 — unlimited
	Downloads     int64 `json:"downloads"`
	Disabled      bool  `json:"disabled"`
	DeleteOnLimit bool  `json:"delete_on_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns how many downloads are left, or -1 when unlimited.
func (i *Item) Remaining() int64 {
	if i.MaxDownloads == 0 {
		return -1
	}
	if i.Downloads >= i.MaxDownloads {
		return 0
	}
	return i.MaxDownloads - i.Downloads
}

// Exhausted reports whether the quota is used up.
func (i *Item) Exhausted() bool {
	return i.MaxDownloads > 0 && i.Downloads >= i.MaxDownloads
}

// Free reports whether the item costs nothing.
func (i *Item) Free() bool { return i.Price == 0 }

// DownloadEntry is one successful consume, stored under dl:{token}:{unixnano}.
type DownloadEntry struct {
	Token  string    `json:"token"`
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}

// Option customizes a new item.
type Option func(*Item)

// WithDeleteOnLimit removes the item once its quota is reached.
func WithDeleteOnLimit() Option {
	return func(i *Item) { i.DeleteOnLimit = true }
}

// WithFileName keeps the original file name.
func WithFileName(name string) Option {
	return func(i *Item) { i.FileName = name }
}

// WithText attaches a caption.
func WithText(text string) Option {
	return func(i *Item) { i.Text = text }
}
