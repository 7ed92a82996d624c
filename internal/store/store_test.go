package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int `json:"n"`
}

func TestMemoryVersioning(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	v1, err := kv.Put(ctx, "k", []byte(`1`), Absent)
	require.NoError(t, err)
	assert.Equal(t, Version(1), v1)

	_, err = kv.Put(ctx, "k", []byte(`2`), Absent)
	assert.ErrorIs(t, err, ErrVersionConflict, "create-if-absent on existing key")

	_, err = kv.Put(ctx, "k", []byte(`2`), 7)
	assert.ErrorIs(t, err, ErrVersionConflict, "stale version")

	v2, err := kv.Put(ctx, "k", []byte(`2`), v1)
	require.NoError(t, err)
	assert.Equal(t, Version(2), v2)

	v3, err := kv.Put(ctx, "k", []byte(`3`), Any)
	require.NoError(t, err)
	assert.Equal(t, Version(3), v3)

	assert.ErrorIs(t, kv.Delete(ctx, "k", v2), ErrVersionConflict)
	require.NoError(t, kv.Delete(ctx, "k", v3))
	assert.ErrorIs(t, kv.Delete(ctx, "k", Any), ErrNotFound)

	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListByPrefix(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	for _, k := range []string{"user:2", "user:1", "content:x", "user:3"} {
		_, err := kv.Put(ctx, k, []byte(`{}`), Any)
		require.NoError(t, err)
	}

	recs, err := kv.List(ctx, PrefixUser, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "user:1", recs[0].Key)

	recs, err = kv.List(ctx, PrefixUser, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestUpdateAbortsWithoutWrite(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	_, err := PutJSON(ctx, kv, "c", counter{N: 1}, Absent)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = Update(ctx, kv, "c", 3, func(c *counter) error {
		c.N = 100
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, ver, err := GetJSON[counter](ctx, kv, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)
	assert.Equal(t, Version(1), ver)
}

func TestUpdateConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	_, err := PutJSON(ctx, kv, "c", counter{}, Absent)
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(ctx, kv, "c", 1000, func(c *counter) error {
				c.N++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := GetJSON[counter](ctx, kv, "c")
	require.NoError(t, err)
	assert.Equal(t, workers, got.N)
}

func TestUpsertCreatesMissingKey(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	got, err := Upsert(ctx, kv, "c", 0, func() counter { return counter{N: 10} }, func(c *counter) error {
		c.N++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 11, got.N)

	got, err = Upsert(ctx, kv, "c", 0, func() counter { return counter{} }, func(c *counter) error {
		c.N++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, got.N)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "user:42", UserKey(42))
	assert.Equal(t, "content:tok123", ContentKey("tok123"))
	assert.Equal(t, "purchase:pur_1", PurchaseKey("pur_1"))
	assert.Equal(t, "gift:WELCOME10", GiftKey("WELCOME10"))
	assert.Equal(t, "giftredemption:WELCOME10:7", GiftRedemptionKey("WELCOME10", 7))
	assert.Equal(t, "conversation:7", ConversationKey(7))
	assert.Equal(t, "pendingspend:7:tok", PendingSpendKey(7, "tok"))
}
