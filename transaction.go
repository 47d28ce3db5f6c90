package kenobix

import (
	"context"
	"fmt"
)

// InTransaction reports whether the database is currently inside an
// explicit transaction.
func (d *Database) InTransaction() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateInTransaction
}

// Begin starts a new transaction. Returns ErrInvalidTransactionState if
// one is already in progress.
func (d *Database) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateInTransaction {
		return fmt.Errorf("begin: %w", ErrInvalidTransactionState)
	}
	if d.readOnly {
		return fmt.Errorf("begin on read-only database: %w", ErrUnsupportedOperation)
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("begin: acquire connection: %w", err)
	}
	if err := d.beginImmediateWithRetry(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}

	d.conn = conn
	d.state = stateInTransaction
	d.spStack = nil
	return nil
}

// Commit ends the current transaction, persisting its writes. Returns
// ErrInvalidTransactionState if idle.
func (d *Database) Commit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateInTransaction {
		return fmt.Errorf("commit: %w", ErrInvalidTransactionState)
	}

	_, execErr := d.conn.ExecContext(ctx, "COMMIT")
	closeErr := d.conn.Close()
	d.conn = nil
	d.state = stateIdle
	d.spStack = nil

	if execErr != nil {
		return fmt.Errorf("commit: %w", execErr)
	}
	if closeErr != nil {
		return fmt.Errorf("commit: close connection: %w", closeErr)
	}
	return nil
}

// Rollback discards the current transaction's writes. Returns
// ErrInvalidTransactionState if idle.
func (d *Database) Rollback(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateInTransaction {
		return fmt.Errorf("rollback: %w", ErrInvalidTransactionState)
	}

	_, execErr := d.conn.ExecContext(ctx, "ROLLBACK")
	closeErr := d.conn.Close()
	d.conn = nil
	d.state = stateIdle
	d.spStack = nil

	if execErr != nil {
		return fmt.Errorf("rollback: %w", execErr)
	}
	if closeErr != nil {
		return fmt.Errorf("rollback: close connection: %w", closeErr)
	}
	return nil
}

// Savepoint pushes a named savepoint onto the current transaction's
// stack. If name is empty, a fresh name is allocated from the
// per-database monotonic counter ("sp_<n>"). Requires an in-progress
// transaction.
func (d *Database) Savepoint(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateInTransaction {
		return "", fmt.Errorf("savepoint: %w", ErrInvalidTransactionState)
	}

	if name == "" {
		d.spCounter++
		name = fmt.Sprintf("sp_%d", d.spCounter)
	}

	if _, err := d.conn.ExecContext(ctx, d.dialect.SavepointStatement(name)); err != nil {
		return "", fmt.Errorf("savepoint %s: %w", name, err)
	}
	d.spStack = append(d.spStack, name)
	return name, nil
}

// RollbackTo unwinds the transaction to the named savepoint, discarding
// its writes and popping every savepoint above it on the stack.
func (d *Database) RollbackTo(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateInTransaction {
		return fmt.Errorf("rollback to %s: %w", name, ErrInvalidTransactionState)
	}
	idx, err := indexOfSavepoint(d.spStack, name)
	if err != nil {
		return fmt.Errorf("rollback to %s: %w", name, err)
	}

	if _, err := d.conn.ExecContext(ctx, d.dialect.RollbackToStatement(name)); err != nil {
		return fmt.Errorf("rollback to %s: %w", name, err)
	}
	d.spStack = d.spStack[:idx+1]
	return nil
}

// Release commits the named savepoint (merging its writes into its
// parent), popping it and every savepoint above it.
func (d *Database) Release(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateInTransaction {
		return fmt.Errorf("release %s: %w", name, ErrInvalidTransactionState)
	}
	idx, err := indexOfSavepoint(d.spStack, name)
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}

	if _, err := d.conn.ExecContext(ctx, d.dialect.ReleaseStatement(name)); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	d.spStack = d.spStack[:idx]
	return nil
}

func indexOfSavepoint(stack []string, name string) (int, error) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown savepoint %q", name)
}

// Transaction runs fn under a transaction, committing on a nil return
// and rolling back (then re-raising) on error or panic. If a transaction
// is already in progress it transparently degrades to a named
// savepoint, released on success and rolled back to on failure —
// enabling syntactically nested transactions.
func (d *Database) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	nested := d.state == stateInTransaction
	d.mu.Unlock()

	if nested {
		return d.transactionAsSavepoint(ctx, fn)
	}
	return d.transactionTopLevel(ctx, fn)
}

func (d *Database) transactionTopLevel(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, span := d.tracer.Start(ctx, "kenobix.transaction")
	defer span.End()

	if err := d.Begin(ctx); err != nil {
		recordSpanError(span, err)
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = d.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(ctx); err != nil {
		if rbErr := d.Rollback(ctx); rbErr != nil {
			wrapped := fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			recordSpanError(span, wrapped)
			return wrapped
		}
		recordSpanError(span, err)
		return err
	}
	if err := d.Commit(ctx); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (d *Database) transactionAsSavepoint(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	name, err := d.Savepoint(ctx, "")
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = d.RollbackTo(ctx, name)
			panic(p)
		}
	}()

	if err = fn(ctx); err != nil {
		if rbErr := d.RollbackTo(ctx, name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint also failed: %v)", err, rbErr)
		}
		return err
	}
	return d.Release(ctx, name)
}
