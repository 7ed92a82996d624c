package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/features/ledger"
	"serotonyl.ru/filegate-bot/internal/features/settings"
	"serotonyl.ru/filegate-bot/internal/features/users"
	"serotonyl.ru/filegate-bot/internal/store"
)

const (
	buyer = int64(5)
	other = int64(6)
	admin = int64(1)
)

func setup(t *testing.T) (*Service, *ledger.Service, *settings.Service) {
	t.Helper()
	kv := store.NewMemory()
	repo := users.NewRepository(kv, 10)
	for _, uid := range []int64{buyer, other} {
		_, _, err := repo.Create(context.Background(), &users.User{ID: uid})
		require.NoError(t, err)
	}
	led := ledger.NewService(repo)
	st := settings.NewService(kv, 10)
	return NewService(kv, led, st, []int64{10, 50}, 10), led, st
}

func toReview(t *testing.T, svc *Service) *Request {
	t.Helper()
	ctx := context.Background()
	r, err := svc.Start(ctx, buyer)
	require.NoError(t, err)
	r, err = svc.SelectPlan(ctx, r.ID, buyer, 50)
	require.NoError(t, err)
	r, err = svc.SubmitReceipt(ctx, r.ID, buyer, events.KindPhoto, "receipt-1")
	require.NoError(t, err)
	return r
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	svc, led, st := setup(t)
	_, err := st.SetPricePerCoin(ctx, 3)
	require.NoError(t, err)

	r, err := svc.Start(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPlanSelection, r.Status)
	assert.Contains(t, r.ID, "pur_")

	r, err = svc.SelectPlan(ctx, r.ID, buyer, 50)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingReceipt, r.Status)
	assert.Equal(t, int64(150), r.Price)

	r, err = svc.SubmitReceipt(ctx, r.ID, buyer, events.KindPhoto, "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, r.Status)

	pending, err := svc.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	r, err = svc.Approve(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, r.Status)
	assert.Equal(t, admin, r.DecidedBy)
	require.NotNil(t, r.DecidedAt)
	assert.Len(t, r.History, 3)

	bal, _ := led.Balance(ctx, buyer)
	assert.Equal(t, int64(50), bal)
}

func TestApproveFromAwaitingReceiptFails(t *testing.T) {
	ctx := context.Background()
	svc, led, _ := setup(t)

	r, err := svc.Start(ctx, buyer)
	require.NoError(t, err)
	r, err = svc.SelectPlan(ctx, r.ID, buyer, 10)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "INVALID_TRANSITION", te.Code)

	bal, _ := led.Balance(ctx, buyer)
	assert.Equal(t, int64(0), bal)

	stored, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingReceipt, stored.Status)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	svc, led, _ := setup(t)

	r := toReview(t, svc)
	_, err := svc.Approve(ctx, r.ID, admin)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = svc.Reject(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	bal, _ := led.Balance(ctx, buyer)
	assert.Equal(t, int64(50), bal, "approval credits exactly once")
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	svc, led, _ := setup(t)

	r := toReview(t, svc)
	r, err := svc.Reject(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, r.Status)

	_, err = svc.Approve(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	bal, _ := led.Balance(ctx, buyer)
	assert.Equal(t, int64(0), bal)
}

func TestDuplicateReceipt(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	r := toReview(t, svc)
	_, err := svc.SubmitReceipt(ctx, r.ID, buyer, events.KindPhoto, "receipt-2")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	stored, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipt-1", stored.ReceiptRef)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	r, err := svc.Start(ctx, buyer)
	require.NoError(t, err)

	_, err = svc.SelectPlan(ctx, r.ID, buyer, 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
	_, err = svc.SelectPlan(ctx, r.ID, other, 10)
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = svc.SubmitReceipt(ctx, r.ID, buyer, events.KindPhoto, "")
	assert.ErrorIs(t, err, common.ErrPayloadRequired)
	_, err = svc.SubmitReceipt(ctx, r.ID, buyer, events.KindPhoto, "x")
	assert.ErrorIs(t, err, common.ErrInvalidState, "receipt before plan selection")

	_, err = svc.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.Approve(ctx, "pur_01h455vb4pex5vsknk084sn02q", admin)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStartReusesOpenRequest(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	first, err := svc.Start(ctx, buyer)
	require.NoError(t, err)
	again, err := svc.Start(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = svc.SelectPlan(ctx, first.ID, buyer, 10)
	require.NoError(t, err)
	_, err = svc.SubmitReceipt(ctx, first.ID, buyer, events.KindDocument, "r")
	require.NoError(t, err)

	_, err = svc.Start(ctx, buyer)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = svc.Approve(ctx, first.ID, admin)
	require.NoError(t, err)
	_, err = svc.ActiveForUser(ctx, buyer)
	assert.ErrorIs(t, err, common.ErrNotFound)

	next, err := svc.Start(ctx, buyer)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestTransitionMatrix(t *testing.T) {
	all := []Status{StatusPendingPlanSelection, StatusAwaitingReceipt, StatusPendingReview, StatusApproved, StatusRejected}
	allowed := map[[2]Status]bool{
		{StatusPendingPlanSelection, StatusAwaitingReceipt}: true,
		{StatusAwaitingReceipt, StatusPendingReview}:        true,
		{StatusPendingReview, StatusApproved}:               true,
		{StatusPendingReview, StatusRejected}:               true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

// heldCrediter blocks the first Credit call until release is closed.
type heldCrediter struct {
	*ledger.Service
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	fail    error
}

func newHeldCrediter(led *ledger.Service) *heldCrediter {
	return &heldCrediter{Service: led, entered: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldCrediter) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		<-h.release
		if h.fail != nil {
			return 0, h.fail
		}
	}
	return h.Service.Credit(ctx, userID, amount)
}

func TestConcurrentApproveCreditsOnce(t *testing.T) {
	ctx := context.Background()
	base, led, _ := setup(t)
	held := newHeldCrediter(led)
	svc := NewService(base.kv, held, base.prices, base.plans, base.attempts)
	r := toReview(t, svc)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = svc.Approve(ctx, r.ID, admin)
	}()
	<-held.entered

	_, err := svc.Approve(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = svc.Reject(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	close(held.release)
	wg.Wait()
	require.NoError(t, firstErr)

	bal, _ := led.Balance(ctx, buyer)
	assert.Equal(t, int64(50), bal)
	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestFailedCreditReleasesDecision(t *testing.T) {
	ctx := context.Background()
	base, led, _ := setup(t)
	held := newHeldCrediter(led)
	held.fail = common.Unavailable("credit", errors.New("connection reset"))
	close(held.release)
	svc := NewService(base.kv, held, base.prices, base.plans, base.attempts)
	r := toReview(t, svc)

	_, err := svc.Approve(ctx, r.ID, admin)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)

	got, err := svc.Approve(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	bal, _ := led.Balance(ctx, buyer)
	assert.Equal(t, int64(50), bal)
}
