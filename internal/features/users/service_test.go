package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/features/settings"
	"serotonyl.ru/filegate-bot/internal/store"
)

type countingStats struct {
	mu sync.Mutex
	n  map[settings.Counter]int
}

func (c *countingStats) Bump(_ context.Context, k settings.Counter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[settings.Counter]int{}
	}
	c.n[k]++
}

func newService() (*Service, *countingStats) {
	stats := &countingStats{}
	return NewService(NewRepository(store.NewMemory(), 5), stats), stats
}

func TestEnsureUserCreatesOnce(t *testing.T) {
	ctx := context.Background()
	svc, stats := newService()

	u, created, err := svc.EnsureUser(ctx, 1, "Alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(0), u.Balance)

	u, created, err = svc.EnsureUser(ctx, 1, "Alice B.")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, 1, stats.n[settings.CounterUsers])
}

func TestEnsureUserConcurrentFirstContact(t *testing.T) {
	ctx := context.Background()
	svc, stats := newService()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.EnsureUser(ctx, 5, "Bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, stats.n[settings.CounterUsers])
}

func TestAttachReferrer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	for _, id := range []int64{1, 2, 3} {
		_, _, err := svc.EnsureUser(ctx, id, "u")
		require.NoError(t, err)
	}

	ok, err := svc.AttachReferrer(ctx, 2, 2)
	require.NoError(t, err)
	assert.False(t, ok, "self referral")

	ok, err = svc.AttachReferrer(ctx, 2, 99)
	require.NoError(t, err)
	assert.False(t, ok, "unknown referrer")

	ok, err = svc.AttachReferrer(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.AttachReferrer(ctx, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok, "referrer is set once")

	u, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ReferrerID)

	pending, err := svc.ListPendingReferrals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].ID)
}

func TestFlagsAndTopReferrers(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	for _, id := range []int64{1, 2, 3} {
		_, _, err := svc.EnsureUser(ctx, id, "u")
		require.NoError(t, err)
	}

	u, err := svc.SetFrozen(ctx, 1, true)
	require.NoError(t, err)
	assert.True(t, u.Frozen)

	u, err = svc.SetBlocked(ctx, 1, true)
	require.NoError(t, err)
	assert.True(t, u.Blocked)
	assert.True(t, u.Frozen)

	_, err = svc.SetFrozen(ctx, 42, true)
	assert.ErrorIs(t, err, common.ErrNotFound)

	repo := svc.Repository()
	_, err = repo.Mutate(ctx, 2, func(u *User) error { u.ReferralCount = 1; return nil })
	require.NoError(t, err)
	_, err = repo.Mutate(ctx, 3, func(u *User) error { u.ReferralCount = 4; return nil })
	require.NoError(t, err)

	top, err := svc.TopReferrers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(3), top[0].ID)
	assert.Equal(t, int64(2), top[1].ID)
}
