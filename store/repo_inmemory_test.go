package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/store"
)

func TestGetReturnsEmptyForMissingKey(t *testing.T) {
	repo := store.NewInMemoryRepo()
	val, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, val)
}

func TestSetWithoutTTLNeverExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.NowTimeFunc = func() time.Time { return now }
	defer func() { store.NowTimeFunc = time.Now }()

	repo := store.NewInMemoryRepo()
	ctx := context.Background()
	require.NoError(t, repo.SetWithTTL(ctx, "key", "value", 0))

	now = now.Add(365 * 24 * time.Hour)
	val, err := repo.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "value", val)
}

func TestSetWithTTLExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.NowTimeFunc = func() time.Time { return now }
	defer func() { store.NowTimeFunc = time.Now }()

	repo := store.NewInMemoryRepo()
	ctx := context.Background()
	require.NoError(t, repo.SetWithTTL(ctx, "key", "value", time.Minute))

	val, err := repo.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "value", val)

	now = now.Add(time.Minute + time.Second)
	val, err = repo.Get(ctx, "key")
	require.NoError(t, err)
	require.Empty(t, val)

	exists, err := repo.Exists(ctx, "key")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	repo := store.NewInMemoryRepo()
	ctx := context.Background()

	token, err := store.AccessToken(ctx, repo)
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, store.SetAccessToken(ctx, repo, "access-1", time.Hour))
	token, err = store.AccessToken(ctx, repo)
	require.NoError(t, err)
	require.Equal(t, "access-1", token)
}

func TestProcessedMarkers(t *testing.T) {
	repo := store.NewInMemoryRepo()
	ctx := context.Background()

	done, err := store.IsProcessed(ctx, repo, "conv-1")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, store.MarkProcessed(ctx, repo, "conv-1"))
	done, err = store.IsProcessed(ctx, repo, "conv-1")
	require.NoError(t, err)
	require.True(t, done)

	// Markers are scoped per conversation.
	done, err = store.IsProcessed(ctx, repo, "conv-2")
	require.NoError(t, err)
	require.False(t, done)
}
