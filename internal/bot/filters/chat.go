// Package filters — chat.go implements the mandatory channel-join check.
// Positive answers are cached for a while so that every update does not
// cost a getChatMember call per channel.
package filters

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/metrics"
)

// MembershipChecker asks Telegram whether userID is in chatID.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// JoinFilter checks that a user joined every required channel.
type JoinFilter struct {
	channels []int64
	checker  MembershipChecker
	cache    *expirable.LRU[string, bool]
}

// NewJoinFilter creates the filter. With no channels every user passes.
func NewJoinFilter(channels []int64, checker MembershipChecker, cacheSize int, ttl time.Duration) *JoinFilter {
	return &JoinFilter{
		channels: channels,
		checker:  checker,
		cache:    expirable.NewLRU[string, bool](cacheSize, nil, ttl),
	}
}

// Channels returns the required channel ids.
func (f *JoinFilter) Channels() []int64 { return f.channels }

// Missing returns the channels userID has not joined yet.
// On API errors the channel counts as missing; the user can retry.
func (f *JoinFilter) Missing(ctx context.Context, userID int64) []int64 {
	var missing []int64
	for _, ch := range f.channels {
		key := cacheKey(ch, userID)
		if ok, hit := f.cache.Get(key); hit && ok {
			metrics.MembershipCache.WithLabelValues("hit").Inc()
			continue
		}
		metrics.MembershipCache.WithLabelValues("miss").Inc()

		ok, err := f.checker.IsMember(ctx, ch, userID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"component":  "JoinFilter",
				"channel_id": ch,
				"user_id":    userID,
			}).Warn("membership check failed")
			missing = append(missing, ch)
			continue
		}
		if !ok {
			missing = append(missing, ch)
			continue
		}
		f.cache.Add(key, true)
	}
	return missing
}

// Joined reports whether userID is in every required channel.
func (f *JoinFilter) Joined(ctx context.Context, userID int64) bool {
	return len(f.Missing(ctx, userID)) == 0
}

// Forget drops cached answers for userID, e.g. when they press "check again".
func (f *JoinFilter) Forget(userID int64) {
	for _, ch := range f.channels {
		f.cache.Remove(cacheKey(ch, userID))
	}
}

func cacheKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}
