package kenobix

import (
	"context"
	"fmt"
	"time"
)

// Insert serializes doc to canonical JSON and inserts it, returning the
// assigned id.
func (c *Collection) Insert(ctx context.Context, doc Document) (int64, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		start := time.Now()
		res, err := ex.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s(data) VALUES(?)", c.db.dialect.QuoteIdent(c.table)),
			data,
		)
		c.db.tel.recordStatement(ctx, msSince(start))
		if err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
		return c.markDirtyTx(ctx, ex, id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertMany inserts every document in docs in one transaction,
// returning their assigned ids in input order. All-or-nothing on engine
// error.
func (c *Collection) InsertMany(ctx context.Context, docs []Document) ([]int64, error) {
	ids := make([]int64, 0, len(docs))
	err := c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		stmt := fmt.Sprintf("INSERT INTO %s(data) VALUES(?)", c.db.dialect.QuoteIdent(c.table))
		for _, doc := range docs {
			data, err := encodeDocument(doc)
			if err != nil {
				return err
			}
			res, err := ex.ExecContext(ctx, stmt, data)
			if err != nil {
				return fmt.Errorf("insert_many into %s: %w", c.name, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("insert_many into %s: %w", c.name, err)
			}
			if err := c.markDirtyTx(ctx, ex, id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Update locates rows where key = value, shallow-merges patch into each
// row's data (patch values overwrite at the top level), and writes the
// result back. Returns whether any row matched.
//
// The merge is row-by-row within the write transaction rather than a
// single JSON-patch statement: modernc.org/sqlite's JSON1 extension
// supports json_set, but json_set can't express "merge every key of an
// arbitrary object parameter" in one expression without knowing the
// patch's keys ahead of time.
func (c *Collection) Update(ctx context.Context, key string, value any, patch Document) (bool, error) {
	matched := false
	err := c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		where, args, err := c.compile(Eq(key, value))
		if err != nil {
			return err
		}
		rows, err := ex.QueryContext(ctx,
			fmt.Sprintf("SELECT id, data FROM %s WHERE %s", c.db.dialect.QuoteIdent(c.table), where),
			args...,
		)
		if err != nil {
			return fmt.Errorf("update %s: %w", c.name, err)
		}

		type pending struct {
			id   int64
			data Document
		}
		var toUpdate []pending
		for rows.Next() {
			var id int64
			var raw string
			if err := rows.Scan(&id, &raw); err != nil {
				_ = rows.Close()
				return fmt.Errorf("update %s: %w", c.name, err)
			}
			doc, err := decodeDocument(raw)
			if err != nil {
				_ = rows.Close()
				return fmt.Errorf("update %s: %w", c.name, err)
			}
			toUpdate = append(toUpdate, pending{id: id, data: doc})
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("update %s: %w", c.name, err)
		}
		_ = rows.Close()

		updateStmt := fmt.Sprintf("UPDATE %s SET data = ? WHERE id = ?", c.db.dialect.QuoteIdent(c.table))
		for _, p := range toUpdate {
			merged := mergeShallow(p.data, patch)
			newData, err := encodeDocument(merged)
			if err != nil {
				return err
			}
			if _, err := ex.ExecContext(ctx, updateStmt, newData, p.id); err != nil {
				return fmt.Errorf("update %s: %w", c.name, err)
			}
			if err := c.markDirtyTx(ctx, ex, p.id); err != nil {
				return err
			}
			matched = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}

// mergeShallow overwrites keys of base with patch at the top level only;
// nested objects within a patched key are replaced wholesale, not
// recursively merged.
func mergeShallow(base, patch Document) Document {
	merged := make(Document, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Remove deletes rows matching key = value, returning the count removed.
func (c *Collection) Remove(ctx context.Context, key string, value any) (int64, error) {
	var n int64
	err := c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		where, args, err := c.compile(Eq(key, value))
		if err != nil {
			return err
		}
		ids, err := c.matchingIDs(ctx, ex, where, args)
		if err != nil {
			return err
		}
		res, err := ex.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s", c.db.dialect.QuoteIdent(c.table), where),
			args...,
		)
		if err != nil {
			return fmt.Errorf("remove from %s: %w", c.name, err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("remove from %s: %w", c.name, err)
		}
		return c.clearDirtyTx(ctx, ex, ids)
	})
	return n, err
}

// Purge removes every document from the collection; the table itself
// persists. Always runs within the current transaction boundary.
func (c *Collection) Purge(ctx context.Context) error {
	return c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		if _, err := ex.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", c.db.dialect.QuoteIdent(c.table))); err != nil {
			return fmt.Errorf("purge %s: %w", c.name, err)
		}
		if _, err := ex.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", c.db.dialect.QuoteIdent(dirtyTableNameFor(c.name)))); err != nil {
			return fmt.Errorf("purge %s: clear dirty table: %w", c.name, err)
		}
		return nil
	})
}

// UpdateByID replaces the stored data for the row identified by id.
// Reports whether a row with that id existed.
func (c *Collection) UpdateByID(ctx context.Context, id int64, doc Document) (bool, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return false, err
	}
	var matched bool
	err = c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		res, err := ex.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET data = ? WHERE id = ?", c.db.dialect.QuoteIdent(c.table)),
			data, id,
		)
		if err != nil {
			return fmt.Errorf("update_by_id %s/%d: %w", c.name, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update_by_id %s/%d: %w", c.name, id, err)
		}
		matched = n > 0
		if matched {
			return c.markDirtyTx(ctx, ex, id)
		}
		return nil
	})
	return matched, err
}

// RemoveByID deletes the row with the given id, reporting whether it
// existed.
func (c *Collection) RemoveByID(ctx context.Context, id int64) (bool, error) {
	var matched bool
	err := c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		res, err := ex.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.db.dialect.QuoteIdent(c.table)), id,
		)
		if err != nil {
			return fmt.Errorf("remove_by_id %s/%d: %w", c.name, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("remove_by_id %s/%d: %w", c.name, id, err)
		}
		matched = n > 0
		return c.clearDirtyTx(ctx, ex, []int64{id})
	})
	return matched, err
}

func (c *Collection) matchingIDs(ctx context.Context, ex execer, where string, args []any) ([]int64, error) {
	rows, err := ex.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE %s", c.db.dialect.QuoteIdent(c.table), where),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select matching ids from %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("select matching ids from %s: %w", c.name, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
