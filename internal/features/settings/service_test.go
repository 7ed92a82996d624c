package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

func TestSettingsDefaultsAndToggles(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), 3)

	st, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled())
	assert.False(t, st.UpdateMode)

	st, err = svc.ToggleService(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled())

	st, err = svc.ToggleService(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled())

	st, err = svc.ToggleUpdateMode(ctx)
	require.NoError(t, err)
	assert.True(t, st.UpdateMode)

	_, err = svc.SetPricePerCoin(ctx, -1)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	st, err = svc.SetPricePerCoin(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), st.PricePerCoin)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestStatsBump(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory(), 3)

	svc.Bump(ctx, CounterUpdates)
	svc.Bump(ctx, CounterUpdates)
	svc.Bump(ctx, CounterFiles)
	svc.Bump(ctx, CounterDownloads)
	svc.Bump(ctx, CounterUsers)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Updates: 2, Users: 1, Files: 1, Downloads: 1}, st)
}
