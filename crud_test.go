package kenobix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAndGetByIDRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs")
	require.NoError(t, err)

	id, err := coll.Insert(ctx, Document{"name": "Alice", "age": 30.0})
	require.NoError(t, err)

	rec, ok, err := coll.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Alice", rec.Data["name"])
	require.InDelta(t, 30.0, rec.Data["age"], 0.0001)
}

func TestInsertRejectsNilDocument(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs")
	require.NoError(t, err)

	_, err = coll.Insert(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidDocument)
}

func TestInsertManyAllOrNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs")
	require.NoError(t, err)

	ids, err := coll.InsertMany(ctx, []Document{
		{"n": 1.0}, {"n": 2.0}, {"n": 3.0},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	n, err := coll.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	// A batch with an invalid document inserts nothing.
	_, err = coll.InsertMany(ctx, []Document{{"n": 4.0}, nil})
	require.ErrorIs(t, err, ErrInvalidDocument)

	n, err = coll.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestUpdateShallowMerge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs", "owner")
	require.NoError(t, err)

	_, err = coll.Insert(ctx, Document{"owner": "alice", "balance": 100.0, "active": true})
	require.NoError(t, err)

	matched, err := coll.Update(ctx, "owner", "alice", Document{"balance": 50.0})
	require.NoError(t, err)
	require.True(t, matched)

	results, err := coll.Search(ctx, "owner", "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 50.0, results[0].Data["balance"], 0.0001)
	require.Equal(t, true, results[0].Data["active"]) // untouched top-level key survives the merge
}

func TestUpdateNoMatchReturnsFalse(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs", "owner")
	require.NoError(t, err)

	matched, err := coll.Update(ctx, "owner", "nobody", Document{"balance": 1.0})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestRemoveReturnsCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs", "tag")
	require.NoError(t, err)

	_, err = coll.InsertMany(ctx, []Document{{"tag": "a"}, {"tag": "a"}, {"tag": "b"}})
	require.NoError(t, err)

	n, err := coll.Remove(ctx, "tag", "a")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	remaining, err := coll.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, remaining)
}

func TestPurgeClearsCollectionButKeepsTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs")
	require.NoError(t, err)

	_, err = coll.InsertMany(ctx, []Document{{"n": 1.0}, {"n": 2.0}})
	require.NoError(t, err)

	require.NoError(t, coll.Purge(ctx))

	n, err := coll.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	exists, err := coll.tableExists(ctx)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDirtyTrackingMarksAndClears(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	coll, err := db.Collection(ctx, "docs")
	require.NoError(t, err)

	id, err := coll.Insert(ctx, Document{"n": 1.0})
	require.NoError(t, err)

	dirty, err := coll.DirtyIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{id}, dirty)

	require.NoError(t, coll.ClearDirty(ctx, []int64{id}))

	dirty, err = coll.DirtyIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, dirty)
}
