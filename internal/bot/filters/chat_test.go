package filters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	mu      sync.Mutex
	members map[int64]map[int64]bool
	calls   int
	err     error
}

func (f *fakeChecker) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.members[chatID][userID], nil
}

func TestJoinFilterNoChannels(t *testing.T) {
	f := NewJoinFilter(nil, &fakeChecker{}, 10, time.Minute)
	assert.True(t, f.Joined(context.Background(), 1))
}

func TestJoinFilterMissingAndCache(t *testing.T) {
	checker := &fakeChecker{members: map[int64]map[int64]bool{
		-100: {1: true},
		-200: {},
	}}
	f := NewJoinFilter([]int64{-100, -200}, checker, 10, time.Minute)
	ctx := context.Background()

	assert.Equal(t, []int64{-200}, f.Missing(ctx, 1))
	assert.Equal(t, 2, checker.calls)

	// -100 is cached now, -200 is asked again.
	assert.Equal(t, []int64{-200}, f.Missing(ctx, 1))
	assert.Equal(t, 3, checker.calls)

	checker.members[-200][1] = true
	assert.True(t, f.Joined(ctx, 1))
	assert.True(t, f.Joined(ctx, 1))
	assert.Equal(t, 4, checker.calls)

	f.Forget(1)
	assert.True(t, f.Joined(ctx, 1))
	assert.Equal(t, 6, checker.calls)
}

func TestJoinFilterErrorCountsAsMissing(t *testing.T) {
	checker := &fakeChecker{err: errors.New("telegram down")}
	f := NewJoinFilter([]int64{-100}, checker, 10, time.Minute)
	assert.Equal(t, []int64{-100}, f.Missing(context.Background(), 1))
	assert.False(t, f.Joined(context.Background(), 1))
}
