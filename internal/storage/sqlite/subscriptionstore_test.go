package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-webpush-service/internal/storage/sqlite"
	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
)

func setupStore(t *testing.T) (context.Context, *sqlite.SubscriptionStore, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subscriptions.db")
	store, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return ctx, store, path
}

func newSub(endpoint string) dispatch.Subscription {
	return dispatch.Subscription{Endpoint: endpoint, P256dh: "p256dh-" + endpoint, Auth: "auth-" + endpoint}
}

func TestSubscriptionStore_Lifecycle(t *testing.T) {
	ctx, store, _ := setupStore(t)
	sub := newSub("https://push.example.com/abc")

	t.Run("Find on empty store returns ErrNotFound", func(t *testing.T) {
		_, err := store.FindByEndpoint(ctx, sub.Endpoint)
		assert.ErrorIs(t, err, dispatch.ErrNotFound)
	})

	t.Run("Insert then Find", func(t *testing.T) {
		require.NoError(t, store.Insert(ctx, sub))

		found, err := store.FindByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.Equal(t, sub, found)
	})

	t.Run("Duplicate Insert is a constraint violation and does not overwrite", func(t *testing.T) {
		dup := sub
		dup.Auth = "different-auth"
		err := store.Insert(ctx, dup)
		assert.ErrorIs(t, err, dispatch.ErrConstraintViolation)

		found, err := store.FindByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.Equal(t, sub.Auth, found.Auth)
	})

	t.Run("Delete reports removed count", func(t *testing.T) {
		n, err := store.DeleteByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.DeleteByEndpoint(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestSubscriptionStore_ListAll(t *testing.T) {
	ctx, store, _ := setupStore(t)

	subs, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Insert(ctx, newSub(fmt.Sprintf("https://push.example.com/%d", i))))
	}

	subs, err = store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 3)
}

func TestSubscriptionStore_ConcurrentInsertSameEndpoint(t *testing.T) {
	ctx, store, _ := setupStore(t)
	sub := newSub("https://push.example.com/race")

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Insert(ctx, sub)
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, err := range results {
		if err == nil {
			inserted++
			continue
		}
		assert.ErrorIs(t, err, dispatch.ErrConstraintViolation)
	}
	assert.Equal(t, 1, inserted)

	subs, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubscriptionStore_SurvivesReopen(t *testing.T) {
	ctx, store, path := setupStore(t)
	sub := newSub("https://push.example.com/durable")
	require.NoError(t, store.Insert(ctx, sub))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	found, err := reopened.FindByEndpoint(ctx, sub.Endpoint)
	require.NoError(t, err)
	assert.Equal(t, sub, found)
}
