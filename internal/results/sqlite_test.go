package results_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

func openTestStore(t *testing.T) *results.SQLiteStore {
	t.Helper()

	store, err := results.Open(filepath.Join(t.TempDir(), "foo_Red_White.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStore_AppendCountPage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	err := store.Append(ctx, []results.Match{
		{Seed: "AAAA1111", Score: 5},
		{Seed: "BBBB2222", Score: 12},
		{Seed: "CCCC3333", Score: 8},
	})
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	page, err := store.Page(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "BBBB2222", page[0].Seed, "highest score first")
	assert.Equal(t, "CCCC3333", page[1].Seed)

	rest, err := store.Page(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "AAAA1111", rest[0].Seed)
}

func TestSQLiteStore_AppendUpsertKeepsHighestScore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "AAAA1111", Score: 5}}))
	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "AAAA1111", Score: 9}}))
	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "AAAA1111", Score: 3}}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "redelivered seed must not duplicate")

	page, err := store.Page(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 9, page[0].Score, "highest score wins")
}

func TestSQLiteStore_HasNewSinceAndPageAfter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	hasNew, err := store.HasNewSince(ctx, 0)
	require.NoError(t, err)
	assert.False(t, hasNew, "empty store has no new data")

	require.NoError(t, store.Append(ctx, []results.Match{
		{Seed: "AAAA1111", Score: 1},
		{Seed: "BBBB2222", Score: 2},
	}))

	hasNew, err = store.HasNewSince(ctx, 0)
	require.NoError(t, err)
	assert.True(t, hasNew)

	page, err := store.PageAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)

	cursor := page[len(page)-1].ID

	hasNew, err = store.HasNewSince(ctx, cursor)
	require.NoError(t, err)
	assert.False(t, hasNew, "cursor at tail sees no new data")

	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "CCCC3333", Score: 3}}))

	hasNew, err = store.HasNewSince(ctx, cursor)
	require.NoError(t, err)
	assert.True(t, hasNew)

	tail, err := store.PageAfter(ctx, cursor, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "CCCC3333", tail[0].Seed)
}

func TestSQLiteStore_DeleteRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "foo_Red_White.db")

	store, err := results.Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Append(context.Background(), []results.Match{{Seed: "AAAA1111", Score: 1}}))
	require.NoError(t, store.Delete())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "database file should be gone")
}

func TestManager_OpenAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	manager, err := results.NewManager(t.TempDir())
	require.NoError(t, err)

	keys := []criteria.Key{
		{CriteriaID: "foo", Deck: "Red", Stake: "White"},
		{CriteriaID: "foo", Deck: "Blue", Stake: "Gold"},
		{CriteriaID: "bar", Deck: "Red", Stake: "White"},
	}

	for _, key := range keys {
		store, err := manager.Open(key)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, []results.Match{{Seed: "AAAA1111", Score: 1}}))
		require.NoError(t, store.Close())
	}

	fooKeys, err := manager.List("foo")
	require.NoError(t, err)
	assert.Len(t, fooKeys, 2)

	for _, key := range fooKeys {
		assert.Equal(t, "foo", key.CriteriaID)
	}
}
