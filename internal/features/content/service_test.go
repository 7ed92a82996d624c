package content

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
	"serotonyl.ru/filegate-bot/internal/store"
)

const (
	ownerID = int64(100)
	adminID = int64(1)
)

func newService() *Service {
	return NewService(NewRepository(store.NewMemory(), 10), nil, func(id int64) bool { return id == adminID })
}

func TestCreateItem(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "file-1", 5, 3, WithFileName("a.pdf"))
	require.NoError(t, err)
	assert.Len(t, it.Token, common.ContentTokenSize)
	assert.Equal(t, "a.pdf", it.FileName)

	got, err := svc.GetItem(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Price)
	assert.Equal(t, int64(3), got.Remaining())
}

func TestCreateItemValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.CreateItem(ctx, ownerID, events.KindPhoto, "", 0, 0)
	assert.ErrorIs(t, err, common.ErrPayloadRequired)

	_, err = svc.CreateItem(ctx, ownerID, events.KindDocument, "f", -1, 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, -1)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = svc.CreateItem(ctx, ownerID, events.Kind("sticker"), "f", 0, 0)
	assert.Error(t, err)

	it, err := svc.CreateItem(ctx, ownerID, events.KindText, "", 0, 0, WithText("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", it.Text)
}

func TestGetItemNotFound(t *testing.T) {
	_, err := newService().GetItem(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOwnerOrAdminOnly(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 0)
	require.NoError(t, err)

	_, err = svc.SetPrice(ctx, it.Token, 555, 3)
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = svc.SetQuota(ctx, it.Token, 555, 3)
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = svc.ToggleDisabled(ctx, it.Token, 555)
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = svc.ReplacePayload(ctx, it.Token, 555, events.KindDocument, "g", "")
	assert.ErrorIs(t, err, common.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, it.Token, 555), common.ErrForbidden)

	updated, err := svc.SetPrice(ctx, it.Token, ownerID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), updated.Price)

	updated, err = svc.SetQuota(ctx, it.Token, adminID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.MaxDownloads)

	updated, err = svc.ReplacePayload(ctx, it.Token, ownerID, events.KindVideo, "v-1", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, events.KindVideo, updated.Kind)
	assert.Equal(t, "v-1", updated.PayloadRef)
	assert.Equal(t, int64(7), updated.Price)

	_, err = svc.ReplacePayload(ctx, it.Token, ownerID, events.KindVideo, "", "")
	assert.ErrorIs(t, err, common.ErrPayloadRequired)

	require.NoError(t, svc.Delete(ctx, it.Token, adminID))
	_, err = svc.GetItem(ctx, it.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestConsumeDownloadGuards(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.ConsumeDownload(ctx, "missing", 1)
	assert.ErrorIs(t, err, common.ErrNotFound)

	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 0)
	require.NoError(t, err)
	_, err = svc.ToggleDisabled(ctx, it.Token, ownerID)
	require.NoError(t, err)

	_, err = svc.ConsumeDownload(ctx, it.Token, 1)
	assert.ErrorIs(t, err, common.ErrItemDisabled)
}

func TestQuotaThreeThenExceeded(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 3)
	require.NoError(t, err)

	for uid := int64(1); uid <= 3; uid++ {
		got, err := svc.ConsumeDownload(ctx, it.Token, uid)
		require.NoError(t, err)
		assert.Equal(t, "f", got.PayloadRef)
		assert.Equal(t, uid, got.Downloads)
	}

	_, err = svc.ConsumeDownload(ctx, it.Token, 4)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	stored, err := svc.GetItem(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Downloads)

	log, err := svc.Downloads(ctx, it.Token, 0)
	require.NoError(t, err)
	assert.Len(t, log, 3)
}

func TestConcurrentConsumeRespectsQuota(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepository(store.NewMemory(), 100), nil, nil)
	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 3)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		exceeded int
	)
	for uid := int64(1); uid <= 10; uid++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := svc.ConsumeDownload(ctx, it.Token, uid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, common.ErrQuotaExceeded):
				exceeded++
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, exceeded)
}

func TestDeleteOnLimit(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "doc-1", 5, 1, WithDeleteOnLimit())
	require.NoError(t, err)

	got, err := svc.ConsumeDownload(ctx, it.Token, 7)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.PayloadRef)

	_, err = svc.GetItem(ctx, it.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = svc.ConsumeDownload(ctx, it.Token, 8)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUnlimitedQuota(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	it, err := svc.CreateItem(ctx, ownerID, events.KindLink, "https://example.com", 0, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.ConsumeDownload(ctx, it.Token, int64(i+1))
		require.NoError(t, err)
	}
	got, err := svc.GetItem(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.Remaining())
	assert.Equal(t, int64(5), got.Downloads)
}

func TestListByOwner(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 0)
		require.NoError(t, err)
	}
	_, err := svc.CreateItem(ctx, 200, events.KindDocument, "f", 0, 0)
	require.NoError(t, err)

	mine, err := svc.ListByOwner(ctx, ownerID, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	limited, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRecipientGetsItemAgainWithoutQuota(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.ConsumeDownload(ctx, it.Token, 7)
		require.NoError(t, err)
	}
	got, err := svc.GetItem(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Downloads)

	_, err = svc.ConsumeDownload(ctx, it.Token, 8)
	require.NoError(t, err)
	_, err = svc.ConsumeDownload(ctx, it.Token, 9)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	_, err = svc.ConsumeDownload(ctx, it.Token, 7)
	require.NoError(t, err, "earlier recipients are not affected by the quota")

	again, err := svc.Received(ctx, it.Token, 8)
	require.NoError(t, err)
	assert.True(t, again)
	again, err = svc.Received(ctx, it.Token, 0)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = svc.ToggleDisabled(ctx, it.Token, ownerID)
	require.NoError(t, err)
	_, err = svc.ConsumeDownload(ctx, it.Token, 7)
	assert.ErrorIs(t, err, common.ErrItemDisabled)
}

// contendedKV loses every versioned write on content records.
type contendedKV struct {
	store.KV
}

func (c contendedKV) Put(ctx context.Context, key string, value []byte, expected store.Version) (store.Version, error) {
	if expected > store.Absent && strings.HasPrefix(key, store.PrefixContent) {
		return 0, store.ErrVersionConflict
	}
	return c.KV.Put(ctx, key, value, expected)
}

func (c contendedKV) Delete(ctx context.Context, key string, expected store.Version) error {
	if expected > store.Absent && strings.HasPrefix(key, store.PrefixContent) {
		return store.ErrVersionConflict
	}
	return c.KV.Delete(ctx, key, expected)
}

func TestContendedWritesReportUnavailable(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepository(contendedKV{store.NewMemory()}, 3), nil, nil)
	it, err := svc.CreateItem(ctx, ownerID, events.KindDocument, "f", 0, 5)
	require.NoError(t, err)

	_, err = svc.ConsumeDownload(ctx, it.Token, 7)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.True(t, common.IsRetryable(err))

	err = svc.Delete(ctx, it.Token, ownerID)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}
