package kenobix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionOpenCreatesTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	coll, err := db.Collection(ctx, "users", "email")
	require.NoError(t, err)
	require.Equal(t, []string{"email"}, coll.GetIndexedFields())

	exists, err := coll.tableExists(ctx)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCollectionReopenWithSameFieldsReuses(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Collection(ctx, "users", "email")
	require.NoError(t, err)

	again, err := db.Collection(ctx, "users", "email")
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestCollectionReopenWithDifferentFieldsFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Collection(ctx, "users", "email")
	require.NoError(t, err)

	delete(db.collections, "users") // force a fresh open against the existing table

	_, err = db.Collection(ctx, "users", "email", "age")
	require.ErrorIs(t, err, ErrIndexSchemaMismatch)
}

func TestCollectionInvalidNameRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Collection(ctx, "bad name!")
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestDefaultCollectionReserved(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Insert(ctx, Document{"x": 1.0})
	require.NoError(t, err)

	names := db.Collections()
	require.Contains(t, names, DefaultCollectionName)
}
