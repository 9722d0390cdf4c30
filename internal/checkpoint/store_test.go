package checkpoint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
)

func testKey(criteriaID, deck, stake string) criteria.Key {
	return criteria.Key{CriteriaID: criteriaID, Deck: deck, Stake: stake}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	key := testKey("foo", "Red", "White")
	rec := checkpoint.Record{
		BatchExponent:      2,
		LastCompletedBatch: 20,
		SearchMode:         "keyspace",
		UpdatedAt:          time.Now().UTC(),
	}

	require.NoError(t, store.Save(key, rec))

	loaded, err := store.Load(key)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, rec.BatchExponent, loaded.BatchExponent)
	assert.Equal(t, rec.LastCompletedBatch, loaded.LastCompletedBatch)
	assert.Equal(t, rec.SearchMode, loaded.SearchMode)
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	rec, err := store.Load(testKey("absent", "Red", "White"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	key := testKey("foo", "Red", "White")

	require.NoError(t, store.Save(key, checkpoint.Record{BatchExponent: 2, LastCompletedBatch: 10}))
	require.NoError(t, store.Save(key, checkpoint.Record{BatchExponent: 2, LastCompletedBatch: 20}))

	loaded, err := store.Load(key)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(20), loaded.LastCompletedBatch)
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Delete(testKey("absent", "Red", "White")))
}

func TestStore_DeleteAll_OnlyMatchingCriteria(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(testKey("foo", "Red", "White"), checkpoint.Record{LastCompletedBatch: 1}))
	require.NoError(t, store.Save(testKey("foo", "Blue", "Gold"), checkpoint.Record{LastCompletedBatch: 2}))
	require.NoError(t, store.Save(testKey("bar", "Red", "White"), checkpoint.Record{LastCompletedBatch: 3}))

	deleted, err := store.DeleteAll("foo")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	survivor, err := store.Load(testKey("bar", "Red", "White"))
	require.NoError(t, err)
	require.NotNil(t, survivor, "unrelated criteria's checkpoint must survive")

	gone, err := store.Load(testKey("foo", "Red", "White"))
	require.NoError(t, err)
	assert.Nil(t, gone)
}
