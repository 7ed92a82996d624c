package spend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/content"
	"serotonyl.ru/filegate-bot/internal/features/ledger"
	"serotonyl.ru/filegate-bot/internal/features/users"
	"serotonyl.ru/filegate-bot/internal/store"
)

const (
	owner = int64(10)
	buyer = int64(20)
)

type fixture struct {
	spend   *Service
	content *content.Service
	ledger  *ledger.Service
}

func setup(t *testing.T, buyerBalance int64) *fixture {
	t.Helper()
	ctx := context.Background()
	kv := store.NewMemory()

	repo := users.NewRepository(kv, 10)
	for _, id := range []int64{owner, buyer} {
		_, _, err := repo.Create(ctx, &users.User{ID: id})
		require.NoError(t, err)
	}
	led := ledger.NewService(repo)
	if buyerBalance > 0 {
		_, err := led.Credit(ctx, buyer, buyerBalance)
		require.NoError(t, err)
	}

	cs := content.NewService(content.NewRepository(kv, 10), nil, nil)
	return &fixture{
		spend:   NewService(kv, cs, led, 10*time.Minute),
		content: cs,
		ledger:  led,
	}
}

func (f *fixture) balance(t *testing.T, id int64) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestPricedSingleUseItem(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "doc-123", 5, 1, content.WithDeleteOnLimit())
	require.NoError(t, err)

	q, err := f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)
	require.False(t, q.Free)
	assert.Equal(t, int64(5), q.Spend.Amount)

	got, err := f.spend.Confirm(ctx, buyer, it.Token)
	require.NoError(t, err)
	assert.Equal(t, "doc-123", got.PayloadRef)
	assert.Equal(t, int64(5), f.balance(t, buyer))

	_, err = f.content.GetItem(ctx, it.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.spend.Offer(ctx, buyer, it.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestConfirmConsumesOfferOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "f", 3, 0)
	require.NoError(t, err)

	_, err = f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.spend.Confirm(ctx, buyer, it.Token)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.ErrorIs(t, err, common.ErrInvalidState)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(97), f.balance(t, buyer))
}

func TestConfirmWithoutOffer(t *testing.T) {
	f := setup(t, 10)
	_, err := f.spend.Confirm(context.Background(), buyer, "whatever")
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestConfirmInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 2)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "f", 5, 0)
	require.NoError(t, err)

	_, err = f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)
	_, err = f.spend.Confirm(ctx, buyer, it.Token)
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)
	assert.Equal(t, int64(2), f.balance(t, buyer))

	stored, err := f.content.GetItem(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Downloads)
}

func TestConfirmRefundsWhenConsumeFails(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "f", 4, 0)
	require.NoError(t, err)

	_, err = f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)
	_, err = f.content.ToggleDisabled(ctx, it.Token, owner)
	require.NoError(t, err)

	_, err = f.spend.Confirm(ctx, buyer, it.Token)
	assert.ErrorIs(t, err, common.ErrItemDisabled)
	assert.Equal(t, int64(10), f.balance(t, buyer))
}

func TestExpiredOffer(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "f", 1, 0)
	require.NoError(t, err)

	_, err = f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)

	f.spend.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	_, err = f.spend.Confirm(ctx, buyer, it.Token)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, int64(10), f.balance(t, buyer))
}

func TestFreeAndOwnerSkipSpendRecord(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 0)
	free, err := f.content.CreateItem(ctx, owner, events.KindDocument, "free", 0, 0)
	require.NoError(t, err)
	paid, err := f.content.CreateItem(ctx, owner, events.KindDocument, "paid", 9, 0)
	require.NoError(t, err)

	q, err := f.spend.Offer(ctx, buyer, free.Token)
	require.NoError(t, err)
	assert.True(t, q.Free)
	assert.Nil(t, q.Spend)

	q, err = f.spend.Offer(ctx, owner, paid.Token)
	require.NoError(t, err)
	assert.True(t, q.Free)

	_, err = f.spend.Deliver(ctx, buyer, free.Token)
	require.NoError(t, err)
	_, err = f.spend.Deliver(ctx, owner, paid.Token)
	require.NoError(t, err)
	_, err = f.spend.Deliver(ctx, buyer, paid.Token)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
}

func TestCancelAndSweep(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	a, err := f.content.CreateItem(ctx, owner, events.KindDocument, "a", 1, 0)
	require.NoError(t, err)
	b, err := f.content.CreateItem(ctx, owner, events.KindDocument, "b", 1, 0)
	require.NoError(t, err)

	_, err = f.spend.Offer(ctx, buyer, a.Token)
	require.NoError(t, err)
	_, err = f.spend.Offer(ctx, buyer, b.Token)
	require.NoError(t, err)

	require.NoError(t, f.spend.Cancel(ctx, buyer, a.Token))
	require.NoError(t, f.spend.Cancel(ctx, buyer, a.Token))
	_, err = f.spend.Confirm(ctx, buyer, a.Token)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	n, err := f.spend.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.spend.SweepExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPaidItemIsDeliveredAgainForFree(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "doc-9", 5, 3)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		q, err := f.spend.Offer(ctx, buyer, it.Token)
		require.NoError(t, err)
		if q.Free {
			_, err = f.spend.Deliver(ctx, buyer, it.Token)
		} else {
			_, err = f.spend.Confirm(ctx, buyer, it.Token)
		}
		require.NoError(t, err)
	}

	assert.Equal(t, int64(5), f.balance(t, buyer))
	stored, err := f.content.GetItem(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Downloads)

	q, err := f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)
	assert.True(t, q.Free)
	assert.Nil(t, q.Spend)
}

func TestStaleOfferIsNotChargedAfterDelivery(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	it, err := f.content.CreateItem(ctx, owner, events.KindDocument, "doc-10", 5, 0)
	require.NoError(t, err)

	_, err = f.spend.Offer(ctx, buyer, it.Token)
	require.NoError(t, err)
	_, err = f.content.ConsumeDownload(ctx, it.Token, buyer)
	require.NoError(t, err)

	got, err := f.spend.Confirm(ctx, buyer, it.Token)
	require.NoError(t, err)
	assert.Equal(t, "doc-10", got.PayloadRef)
	assert.Equal(t, int64(10), f.balance(t, buyer))
}
