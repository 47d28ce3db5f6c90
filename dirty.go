package kenobix

import (
	"context"
	"fmt"
)

// markDirtyTx records id as dirty in the collection's shadow table.
// Runs within the caller's write transaction so it shares its
// atomicity.
func (c *Collection) markDirtyTx(ctx context.Context, ex execer, id int64) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s(id, marked_at) VALUES (?, datetime('now')) "+
			"ON CONFLICT(id) DO UPDATE SET marked_at = excluded.marked_at",
		c.db.dialect.QuoteIdent(dirtyTableNameFor(c.name)),
	)
	if _, err := ex.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("mark dirty %s/%d: %w", c.name, id, err)
	}
	return nil
}

func (c *Collection) clearDirtyTx(ctx context.Context, ex execer, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)",
		c.db.dialect.QuoteIdent(dirtyTableNameFor(c.name)), joinComma(placeholders))
	if _, err := ex.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("clear dirty %s: %w", c.name, err)
	}
	return nil
}

// MarkDirty explicitly marks id dirty, for callers that mutate a
// document's data through means other than Update (e.g. an external
// patch applied out of band).
func (c *Collection) MarkDirty(ctx context.Context, id int64) error {
	return c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		return c.markDirtyTx(ctx, ex, id)
	})
}

// DirtyIDs returns every id currently marked dirty, oldest mark first.
// An incremental exporter calls this to discover which documents changed
// since its last run, then ClearDirty once it has consumed them.
func (c *Collection) DirtyIDs(ctx context.Context) ([]int64, error) {
	rows, err := c.db.reader().QueryContext(ctx, fmt.Sprintf(
		"SELECT id FROM %s ORDER BY marked_at, id", c.db.dialect.QuoteIdent(dirtyTableNameFor(c.name)),
	))
	if err != nil {
		return nil, fmt.Errorf("dirty ids for %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dirty ids for %s: %w", c.name, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDirty unmarks the given ids, typically called by an exporter once
// it has durably consumed them.
func (c *Collection) ClearDirty(ctx context.Context, ids []int64) error {
	return c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		return c.clearDirtyTx(ctx, ex, ids)
	})
}
