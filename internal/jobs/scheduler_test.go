package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/features/settings"
)

type fakeSweeper struct {
	calls []time.Time
	n     int
	err   error
}

func (f *fakeSweeper) SweepExpired(_ context.Context, now time.Time) (int, error) {
	f.calls = append(f.calls, now)
	return f.n, f.err
}

func (f *fakeSweeper) SweepStale(_ context.Context, now time.Time) (int, error) {
	f.calls = append(f.calls, now)
	return f.n, f.err
}

func (f *fakeSweeper) SweepExpiredSessions(_ context.Context, now time.Time) (int, error) {
	f.calls = append(f.calls, now)
	return f.n, f.err
}

type fakeStats struct{ calls int }

func (f *fakeStats) Stats(context.Context) (settings.Stats, error) {
	f.calls++
	return settings.Stats{Users: 3}, nil
}

func TestSweepsUseSchedulerClock(t *testing.T) {
	spends := &fakeSweeper{n: 2}
	convs := &fakeSweeper{err: errors.New("store down")}
	sessions := &fakeSweeper{n: 1}
	stats := &fakeStats{}

	s := NewScheduler(time.UTC, Deps{Spends: spends, Conversations: convs, Sessions: sessions, Stats: stats})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	ctx := context.Background()
	s.sweepSpends(ctx)
	s.sweepHourly(ctx)
	s.logStats(ctx)

	assert.Equal(t, []time.Time{fixed}, spends.calls)
	assert.Equal(t, []time.Time{fixed}, convs.calls)
	assert.Equal(t, []time.Time{fixed}, sessions.calls, "a failing sweep does not skip the next one")
	assert.Equal(t, 1, stats.calls)
}

func TestMissingDepsAreSkipped(t *testing.T) {
	s := NewScheduler(nil, Deps{})
	ctx := context.Background()
	assert.NotPanics(t, func() {
		s.sweepSpends(ctx)
		s.sweepHourly(ctx)
		s.logStats(ctx)
	})
}

func TestStartRegistersJobsInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	s := NewScheduler(loc, Deps{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	entries := s.cron.Entries()
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, loc, e.Next.Location())
	}
}
