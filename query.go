package kenobix

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanRecords drains rows of (id, data) pairs into Records.
func scanRecords(rows rowScanner) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, Record{ID: id, Data: doc})
	}
	return out, rows.Err()
}

// limitOffsetClause renders a LIMIT/OFFSET suffix. limit <= 0 means "no
// cap" and returns every matching row, rendered as SQLite's unbounded
// LIMIT (-1) since SQLite only accepts OFFSET alongside an explicit
// LIMIT.
func limitOffsetClause(limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = -1
	}
	return "LIMIT ? OFFSET ?", []any{limit, offset}
}

// Search returns documents where key equals value, routed to the
// generated column when key is indexed. limit <= 0 returns every match;
// rows are ordered by id.
func (c *Collection) Search(ctx context.Context, key string, value any, limit, offset int) ([]Record, error) {
	ctx, span := c.db.tracer.Start(ctx, "kenobix.search")
	defer span.End()

	where, args, err := c.compile(Eq(key, value))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	records, err := c.searchWhere(ctx, where, args, limit, offset)
	if err != nil {
		recordSpanError(span, err)
	}
	return records, err
}

func (c *Collection) searchWhere(ctx context.Context, where string, args []any, limit, offset int) ([]Record, error) {
	loClause, loArgs := limitOffsetClause(limit, offset)
	stmt := fmt.Sprintf("SELECT id, data FROM %s WHERE %s ORDER BY id %s",
		c.db.dialect.QuoteIdent(c.table), where, loClause)
	rows, err := c.db.reader().QueryContext(ctx, stmt, append(append([]any{}, args...), loArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// SearchOptimized ANDs together an arbitrary conjunction of predicates,
// mixing indexed and JSON-extract forms freely.
func (c *Collection) SearchOptimized(ctx context.Context, preds []Predicate, limit, offset int) ([]Record, error) {
	where, args, err := c.compileAll(preds)
	if err != nil {
		return nil, err
	}
	return c.searchWhere(ctx, where, args, limit, offset)
}

// SearchPattern matches key against a regular expression using the
// engine's registered regexp scalar function. Always a full scan, even
// when key is indexed.
func (c *Collection) SearchPattern(ctx context.Context, key, pattern string, limit, offset int) ([]Record, error) {
	extract := c.db.dialect.JSONExtract("data", key)
	where := c.db.dialect.RegexPredicate(extract)
	return c.searchWhere(ctx, where, []any{pattern}, limit, offset)
}

// FindAny returns documents whose key value is a member of values (set
// membership, IN semantics; indexed if key is indexed).
func (c *Collection) FindAny(ctx context.Context, key string, values []any, limit, offset int) ([]Record, error) {
	where, args, err := c.compile(Predicate{Field: key, Op: OpIn, Value: values})
	if err != nil {
		return nil, err
	}
	return c.searchWhere(ctx, where, args, limit, offset)
}

// FindAll returns every document whose key holds a JSON array that is a
// superset of values. The dialect never pushes this down
// (JSONArrayContainsAll always reports ok=false for SQLite), so this
// retrieves every row and filters in memory. A document whose key is
// missing or not an array silently matches nothing, rather than erroring.
func (c *Collection) FindAll(ctx context.Context, key string, values []any) ([]Record, error) {
	all, err := c.All(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	want := make([]string, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("find_all %s.%s: marshal value: %w", c.name, key, err)
		}
		want[i] = string(b)
	}

	var out []Record
	for _, rec := range all {
		arr, ok := rec.Data[key].([]any)
		if !ok {
			continue
		}
		present := make(map[string]bool, len(arr))
		for _, el := range arr {
			b, err := json.Marshal(el)
			if err != nil {
				continue
			}
			present[string(b)] = true
		}
		matchesAll := true
		for _, w := range want {
			if !present[w] {
				matchesAll = false
				break
			}
		}
		if matchesAll {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Explain returns the engine's query plan rows, verbatim, for the
// statement that Search(key, value, ...) would issue, without executing
// it.
func (c *Collection) Explain(ctx context.Context, key string, value any) (string, error) {
	where, args, err := c.compile(Eq(key, value))
	if err != nil {
		return "", err
	}
	stmt := fmt.Sprintf("%sSELECT id, data FROM %s WHERE %s ORDER BY id",
		c.db.dialect.ExplainPrefix(), c.db.dialect.QuoteIdent(c.table), where)
	rows, err := c.db.reader().QueryContext(ctx, stmt, args...)
	if err != nil {
		return "", fmt.Errorf("explain %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("explain %s: %w", c.name, err)
	}

	var plan string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("explain %s: %w", c.name, err)
		}
		line, err := json.Marshal(vals)
		if err != nil {
			return "", fmt.Errorf("explain %s: %w", c.name, err)
		}
		if plan != "" {
			plan += "\n"
		}
		plan += string(line)
	}
	return plan, rows.Err()
}

// All returns every document in the collection, ordered by id. limit <=
// 0 returns every row.
func (c *Collection) All(ctx context.Context, limit, offset int) ([]Record, error) {
	loClause, loArgs := limitOffsetClause(limit, offset)
	rows, err := c.db.reader().QueryContext(ctx,
		fmt.Sprintf("SELECT id, data FROM %s ORDER BY id %s", c.db.dialect.QuoteIdent(c.table), loClause),
		loArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("all %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// CursorPage is the result of AllCursor: a page of documents plus the
// cursor to resume from and whether more rows remain.
type CursorPage struct {
	Documents  []Record
	NextCursor *int64
	HasMore    bool
}

// AllCursor returns up to limit documents with id > after, ordered by
// id. NextCursor is the last returned id, or
// nil if the page was empty; HasMore is true iff the page was full
// (len == limit), avoiding a separate lookahead query.
func (c *Collection) AllCursor(ctx context.Context, after int64, limit int) (CursorPage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.reader().QueryContext(ctx,
		fmt.Sprintf("SELECT id, data FROM %s WHERE id > ? ORDER BY id LIMIT ?", c.db.dialect.QuoteIdent(c.table)),
		after, limit,
	)
	if err != nil {
		return CursorPage{}, fmt.Errorf("all_cursor %s: %w", c.name, err)
	}
	defer func() { _ = rows.Close() }()

	docs, err := scanRecords(rows)
	if err != nil {
		return CursorPage{}, err
	}

	page := CursorPage{Documents: docs, HasMore: len(docs) == limit}
	if len(docs) > 0 {
		last := docs[len(docs)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

// GetByID returns the document with the given id, or (Record{}, false,
// nil) if no such row exists.
func (c *Collection) GetByID(ctx context.Context, id int64) (Record, bool, error) {
	var raw string
	err := c.db.reader().QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = ?", c.db.dialect.QuoteIdent(c.table)), id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get_by_id %s/%d: %w", c.name, id, err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return Record{}, false, fmt.Errorf("get_by_id %s/%d: %w", c.name, id, err)
	}
	return Record{ID: id, Data: doc}, true, nil
}

// Count returns the number of documents matching key = value, or the
// full collection count when key is empty.
func (c *Collection) Count(ctx context.Context, key string, value any) (int64, error) {
	where := "1=1"
	var args []any
	if key != "" {
		w, a, err := c.compile(Eq(key, value))
		if err != nil {
			return 0, err
		}
		where, args = w, a
	}
	var n int64
	err := c.db.reader().QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", c.db.dialect.QuoteIdent(c.table), where), args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

// GetIndexedFields returns the collection's declared indexed fields, in
// declaration order.
func (c *Collection) GetIndexedFields() []string {
	return append([]string(nil), c.indexedFields...)
}

// Stats reports row count, database file size, indexed fields, and
// journal mode.
type Stats struct {
	DocumentCount int64
	FileSizeBytes int64
	IndexedFields []string
	JournalMode   string
}

// Stats returns a Stats snapshot for the collection.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	n, err := c.Count(ctx, "", nil)
	if err != nil {
		return Stats{}, err
	}
	var journalMode string
	if err := c.db.reader().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", c.name, err)
	}
	return Stats{
		DocumentCount: n,
		FileSizeBytes: c.db.FileSize(),
		IndexedFields: c.GetIndexedFields(),
		JournalMode:   journalMode,
	}, nil
}
