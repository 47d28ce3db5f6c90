package kenobix

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenCreatesFile(t *testing.T) {
	db := openTestDB(t)
	require.NotEmpty(t, db.Path())
	_, err := os.Stat(db.Path())
	require.NoError(t, err)
}

func TestBeginCommitRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.False(t, db.InTransaction())
	require.NoError(t, db.Begin(ctx))
	require.True(t, db.InTransaction())

	// Beginning again while already in a transaction is an error.
	err := db.Begin(ctx)
	require.ErrorIs(t, err, ErrInvalidTransactionState)

	require.NoError(t, db.Commit(ctx))
	require.False(t, db.InTransaction())

	// Committing while idle is an error.
	err = db.Commit(ctx)
	require.ErrorIs(t, err, ErrInvalidTransactionState)

	require.NoError(t, db.Begin(ctx))
	require.NoError(t, db.Rollback(ctx))
	require.False(t, db.InTransaction())
}

func TestTransactionScopeCommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	coll, err := db.Collection(ctx, "widgets", "sku")
	require.NoError(t, err)

	err = db.Transaction(ctx, func(ctx context.Context) error {
		_, err := coll.Insert(ctx, Document{"sku": "abc", "qty": 3.0})
		return err
	})
	require.NoError(t, err)

	n, err := coll.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestTransactionScopeRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	coll, err := db.Collection(ctx, "widgets", "sku")
	require.NoError(t, err)

	err = db.Transaction(ctx, func(ctx context.Context) error {
		if _, err := coll.Insert(ctx, Document{"sku": "xyz"}); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	n, err := coll.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestNestedTransactionDegradesToSavepoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	coll, err := db.Collection(ctx, "notes")
	require.NoError(t, err)

	var innerErr error
	err = db.Transaction(ctx, func(ctx context.Context) error {
		if _, err := coll.Insert(ctx, Document{"n": 1.0}); err != nil {
			return err
		}
		innerErr = db.Transaction(ctx, func(ctx context.Context) error {
			if _, err := coll.Insert(ctx, Document{"n": 2.0}); err != nil {
				return err
			}
			return context.Canceled // force inner rollback-to-savepoint
		})
		return nil // the outer scope handles the inner failure and commits
	})
	require.NoError(t, err)
	require.ErrorIs(t, innerErr, context.Canceled)

	// Outer transaction's insert survives; inner one was rolled back to
	// its savepoint.
	all, err := coll.All(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.InDelta(t, 1.0, all[0].Data["n"], 0.0001)
}

func TestSavepointRollbackTo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	coll, err := db.Collection(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, db.Begin(ctx))
	_, err = coll.Insert(ctx, Document{"n": 1.0})
	require.NoError(t, err)

	sp, err := db.Savepoint(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "sp_1", sp)

	_, err = coll.Insert(ctx, Document{"n": 2.0})
	require.NoError(t, err)

	require.NoError(t, db.RollbackTo(ctx, sp))
	require.NoError(t, db.Commit(ctx))

	all, err := coll.All(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	db1, err := Open(path)
	require.NoError(t, err)
	coll1, err := db1.Collection(ctx, "accounts", "owner")
	require.NoError(t, err)
	_, err = coll1.Insert(ctx, Document{"owner": "alice", "balance": 100.0})
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	coll2, err := db2.Collection(ctx, "accounts", "owner")
	require.NoError(t, err)

	n, err := coll2.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestBankTransferAtomicity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	coll, err := db.Collection(ctx, "accounts", "owner")
	require.NoError(t, err)

	aID, err := coll.Insert(ctx, Document{"owner": "a", "balance": 100.0})
	require.NoError(t, err)
	bID, err := coll.Insert(ctx, Document{"owner": "b", "balance": 100.0})
	require.NoError(t, err)

	err = db.Transaction(ctx, func(ctx context.Context) error {
		recA, _, err := coll.GetByID(ctx, aID)
		if err != nil {
			return err
		}
		recB, _, err := coll.GetByID(ctx, bID)
		if err != nil {
			return err
		}
		if _, err := coll.UpdateByID(ctx, aID, Document{"owner": "a", "balance": recA.Data["balance"].(float64) - 50}); err != nil {
			return err
		}
		if _, err := coll.UpdateByID(ctx, bID, Document{"owner": "b", "balance": recB.Data["balance"].(float64) + 50}); err != nil {
			return err
		}
		return context.Canceled // simulate a failure before commit
	})
	require.Error(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	coll2, err := db2.Collection(ctx, "accounts", "owner")
	require.NoError(t, err)

	recA, _, err := coll2.GetByID(ctx, aID)
	require.NoError(t, err)
	recB, _, err := coll2.GetByID(ctx, bID)
	require.NoError(t, err)
	require.InDelta(t, 100.0, recA.Data["balance"], 0.0001)
	require.InDelta(t, 100.0, recB.Data["balance"], 0.0001)
}

func TestUncommittedWritesInvisibleToOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cross_handle.db")
	ctx := context.Background()

	db1, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db1.Close() }()
	coll1, err := db1.Collection(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, db1.Begin(ctx))
	_, err = coll1.Insert(ctx, Document{"kind": "signup"})
	require.NoError(t, err)

	db2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()
	coll2, err := db2.Collection(ctx, "events")
	require.NoError(t, err)

	n, err := coll2.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n, "a different handle must not see an uncommitted write")

	require.NoError(t, db1.Commit(ctx))

	n, err = coll2.Count(ctx, "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "the write becomes visible to other handles once committed")
}
