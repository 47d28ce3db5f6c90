package dialect

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"sync"

	"modernc.org/sqlite"
)

// SQLite is the Dialect implementation for modernc.org/sqlite, the
// engine this module targets.
type SQLite struct{}

// NewSQLite returns the SQLite dialect, registering the REGEXP scalar
// function the first time it's called. SQLite's core has no built-in
// REGEXP operator; engines that want one register a function, which is
// exactly what pattern search relies on.
func NewSQLite() *SQLite {
	registerRegexpOnce()
	return &SQLite{}
}

var regexpOnce sync.Once

func registerRegexpOnce() {
	regexpOnce.Do(func() {
		_ = sqlite.RegisterScalarFunction("regexp", 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			pattern, ok1 := args[0].(string)
			subject, ok2 := args[1].(string)
			if !ok1 || !ok2 {
				return int64(0), nil
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid regexp %q: %w", pattern, err)
			}
			if re.MatchString(subject) {
				return int64(1), nil
			}
			return int64(0), nil
		})
	})
}

func (d *SQLite) Name() string { return "sqlite" }

func (d *SQLite) QuoteIdent(ident string) string {
	return `"` + ident + `"`
}

func (d *SQLite) JSONExtract(column, key string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", d.QuoteIdent(column), key)
}

func (d *SQLite) GeneratedColumnDDL(key string, colType ColumnType) string {
	if colType == ColumnAny {
		// No declared type means no column affinity, so the column holds
		// exactly what json_extract returns and numbers compare as numbers.
		return fmt.Sprintf("%s GENERATED ALWAYS AS (%s) VIRTUAL",
			d.QuoteIdent(key), d.JSONExtract("data", key))
	}
	return fmt.Sprintf("%s %s GENERATED ALWAYS AS (%s) VIRTUAL",
		d.QuoteIdent(key), string(colType), d.JSONExtract("data", key))
}

func (d *SQLite) IndexDDL(indexName, table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
		d.QuoteIdent(indexName), d.QuoteIdent(table), d.QuoteIdent(column))
}

func (d *SQLite) RegexPredicate(expr string) string {
	return fmt.Sprintf("regexp(?, %s)", expr)
}

func (d *SQLite) ExplainPrefix() string {
	return "EXPLAIN QUERY PLAN "
}

func (d *SQLite) JSONArrayContainsAll(expr string) (string, bool) {
	// modernc.org/sqlite ships JSON1 but not a single-expression "array
	// contains all" operator, so the superset-match query falls back to
	// an in-memory filter at the collection layer. Returning ok=false
	// keeps that contract explicit at the dialect boundary instead of
	// silently mis-compiling a query.
	_ = expr
	return "", false
}

func (d *SQLite) BeginStatement() string { return "BEGIN IMMEDIATE" }

func (d *SQLite) SavepointStatement(name string) string {
	return fmt.Sprintf("SAVEPOINT %s", name)
}

func (d *SQLite) ReleaseStatement(name string) string {
	return fmt.Sprintf("RELEASE %s", name)
}

func (d *SQLite) RollbackToStatement(name string) string {
	return fmt.Sprintf("ROLLBACK TO %s", name)
}

var _ Dialect = (*SQLite)(nil)
