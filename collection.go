package kenobix

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kenobix/kenobix/internal/dialect"
)

// Document is a JSON-compatible mapping. The _id field is never part of
// the stored payload; it is carried alongside it in Record.
type Document = map[string]any

// Record is a persisted document plus its primary identifier.
type Record struct {
	ID   int64
	Data Document
}

// Collection is a named, table-backed set of documents with zero or
// more secondary indexes implemented as generated virtual columns.
type Collection struct {
	db            *Database
	name          string
	table         string
	indexedFields []string
	indexedSet    map[string]bool
}

func tableNameFor(collection string) string {
	return "collection_" + collection
}

func dirtyTableNameFor(collection string) string {
	return "dirty_" + collection
}

// Collection returns the handle for the named collection, creating its
// backing table if this is the first time it has been opened.
// indexedFields declares the set of top-level JSON keys to expose as
// indexed generated columns. Re-declaring an existing collection with a
// different indexed set fails with ErrIndexSchemaMismatch.
func (d *Database) Collection(ctx context.Context, name string, indexedFields ...string) (*Collection, error) {
	if !dialect.ValidIdent(name) {
		return nil, fmt.Errorf("collection %q: %w", name, ErrInvalidField)
	}

	d.collMu.Lock()
	defer d.collMu.Unlock()

	if existing, ok := d.collections[name]; ok {
		if !sameFieldSet(existing.indexedFields, indexedFields) {
			return nil, fmt.Errorf("collection %q: %w", name, ErrIndexSchemaMismatch)
		}
		return existing, nil
	}

	c := &Collection{
		db:            d,
		name:          name,
		table:         tableNameFor(name),
		indexedFields: append([]string(nil), indexedFields...),
		indexedSet:    toSet(indexedFields),
	}

	if err := c.open(ctx); err != nil {
		return nil, err
	}

	d.collections[name] = c
	return c, nil
}

// Collections returns the names of every collection opened so far on
// this handle.
func (d *Database) Collections() []string {
	d.collMu.Lock()
	defer d.collMu.Unlock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameFieldSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := toSet(a), toSet(b)
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}

func toSet(fields []string) map[string]bool {
	s := make(map[string]bool, len(fields))
	for _, f := range fields {
		s[f] = true
	}
	return s
}

// open implements a three-way decision: create the table if missing,
// reuse it if the indexed set matches, or fail with
// ErrIndexSchemaMismatch.
func (c *Collection) open(ctx context.Context) error {
	exists, err := c.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return c.create(ctx)
	}

	existingCols, err := c.existingGeneratedColumns(ctx)
	if err != nil {
		return err
	}
	if !sameFieldSet(existingCols, c.indexedFields) {
		return fmt.Errorf("collection %q: declared indexed fields %v do not match existing table's %v: %w",
			c.name, c.indexedFields, existingCols, ErrIndexSchemaMismatch)
	}
	return nil
}

// existingGeneratedColumns inspects the table's columns via
// PRAGMA table_xinfo (table_info omits generated columns), returning
// every column other than id/data (i.e. the generated virtual columns
// backing the current indexed set). The caller must have already
// confirmed the table exists.
func (c *Collection) existingGeneratedColumns(ctx context.Context) ([]string, error) {
	rows, err := c.db.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_xinfo(%s)", c.db.dialect.QuoteIdent(c.table)))
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", c.table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt sql.NullString
		var pk, hidden int
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk, &hidden); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", c.table, err)
		}
		if colName == "id" || colName == "data" {
			continue
		}
		cols = append(cols, colName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", c.table, err)
	}
	return cols, nil
}

func (c *Collection) create(ctx context.Context) error {
	return c.db.withWrite(ctx, func(ctx context.Context, ex execer) error {
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", c.db.dialect.QuoteIdent(c.table))
		b.WriteString("  id INTEGER PRIMARY KEY AUTOINCREMENT,\n")
		b.WriteString("  data TEXT NOT NULL")
		for _, f := range c.indexedFields {
			fmt.Fprintf(&b, ",\n  %s", c.db.dialect.GeneratedColumnDDL(f, dialect.ColumnAny))
		}
		b.WriteString("\n)")

		if _, err := ex.ExecContext(ctx, b.String()); err != nil {
			return fmt.Errorf("create table %s: %w", c.table, err)
		}

		for _, f := range c.indexedFields {
			idxName := fmt.Sprintf("idx_%s_%s", c.table, f)
			if _, err := ex.ExecContext(ctx, c.db.dialect.IndexDDL(idxName, c.table, f)); err != nil {
				return fmt.Errorf("create index on %s.%s: %w", c.table, f, err)
			}
		}

		dirtyTable := dirtyTableNameFor(c.name)
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, marked_at TEXT NOT NULL)",
			c.db.dialect.QuoteIdent(dirtyTable),
		)
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create dirty table for %s: %w", c.name, err)
		}
		return nil
	})
}

// tableExists checks sqlite_master directly: existingGeneratedColumns
// returns no columns both for a missing table and for one with no
// indexed fields, so existence must be checked independently.
func (c *Collection) tableExists(ctx context.Context) (bool, error) {
	var name string
	err := c.db.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", c.table,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s exists: %w", c.table, err)
	}
	return true, nil
}

func encodeDocument(doc Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("insert nil document: %w", ErrInvalidDocument)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w: %v", ErrInvalidDocument, err)
	}
	return string(data), nil
}

func decodeDocument(data string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
