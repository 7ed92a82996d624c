package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/features/users"
	"serotonyl.ru/filegate-bot/internal/store"
)

func setup(t *testing.T, ids ...int64) (*Service, *users.Repository) {
	t.Helper()
	repo := users.NewRepository(store.NewMemory(), 10)
	for _, id := range ids {
		_, _, err := repo.Create(context.Background(), &users.User{ID: id})
		require.NoError(t, err)
	}
	return NewService(repo), repo
}

func TestCreditDebit(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, 1)

	bal, err := svc.Credit(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	bal, err = svc.Debit(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)

	bal, err = svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), bal)
}

func TestLedgerRejections(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, 1, 2)
	_, err := svc.Credit(ctx, 1, 5)
	require.NoError(t, err)
	_, err = repo.Mutate(ctx, 2, func(u *users.User) error { u.Frozen = true; return nil })
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"credit zero", func() error { _, err := svc.Credit(ctx, 1, 0); return err }, common.ErrInvalidAmount},
		{"credit negative", func() error { _, err := svc.Credit(ctx, 1, -3); return err }, common.ErrInvalidAmount},
		{"credit missing user", func() error { _, err := svc.Credit(ctx, 99, 1); return err }, common.ErrNotFound},
		{"debit zero", func() error { _, err := svc.Debit(ctx, 1, 0); return err }, common.ErrInvalidAmount},
		{"debit missing user", func() error { _, err := svc.Debit(ctx, 99, 1); return err }, common.ErrNotFound},
		{"debit frozen", func() error { _, err := svc.Debit(ctx, 2, 1); return err }, common.ErrAccountFrozen},
		{"overdraft", func() error { _, err := svc.Debit(ctx, 1, 6); return err }, common.ErrInsufficientFunds},
		{"self transfer", func() error { return svc.Transfer(ctx, 1, 1, 1) }, common.ErrSelfTransfer},
		{"transfer to missing", func() error { return svc.Transfer(ctx, 1, 99, 1) }, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), tt.want)
		})
	}

	bal, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal, "rejected operations must not change the balance")
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, 1, 2)
	_, err := svc.Credit(ctx, 1, 10)
	require.NoError(t, err)

	require.NoError(t, svc.Transfer(ctx, 1, 2, 7))

	a, _ := svc.Balance(ctx, 1)
	b, _ := svc.Balance(ctx, 2)
	assert.Equal(t, int64(3), a)
	assert.Equal(t, int64(7), b)
}

func TestTransferCompensatesFailedCredit(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, 1, 2)
	_, err := svc.Credit(ctx, 1, 10)
	require.NoError(t, err)
	_, err = repo.Mutate(ctx, 2, func(u *users.User) error { u.Frozen = true; return nil })
	require.NoError(t, err)

	err = svc.Transfer(ctx, 1, 2, 4)
	assert.ErrorIs(t, err, common.ErrAccountFrozen)

	a, _ := svc.Balance(ctx, 1)
	b, _ := svc.Balance(ctx, 2)
	assert.Equal(t, int64(10), a)
	assert.Equal(t, int64(0), b)
}

func TestRefundIgnoresFrozen(t *testing.T) {
	ctx := context.Background()
	svc, repo := setup(t, 1)
	_, err := repo.Mutate(ctx, 1, func(u *users.User) error { u.Frozen = true; return nil })
	require.NoError(t, err)

	require.NoError(t, svc.Refund(ctx, 1, 3))
	bal, _ := svc.Balance(ctx, 1)
	assert.Equal(t, int64(3), bal)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t, 1)
	_, err := svc.Credit(ctx, 1, 10)
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, 1, 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(ctx, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, bal, int64(0))
	assert.Equal(t, int64(10)-int64(ok), bal)
}
