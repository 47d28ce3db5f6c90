// Package dialect abstracts the SQL fragments that differ by engine, so
// the collection and query-compiler layers above it stay engine-agnostic.
package dialect

// ColumnType is the declared SQL type of a generated virtual column. The
// engine's dynamic typing makes the exact type mostly advisory, but it
// affects expression-index eligibility for some engines.
type ColumnType string

const (
	ColumnAny     ColumnType = ""
	ColumnText    ColumnType = "TEXT"
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
)

// Dialect is the narrow surface the storage layer depends on. One
// implementation exists today (SQLite); the interface exists so that a
// second embedded engine could be substituted without touching
// Collection, Database, or the query compiler.
type Dialect interface {
	// Name identifies the dialect for diagnostics.
	Name() string

	// QuoteIdent quotes an identifier (table or column name) for safe
	// interpolation into SQL text. Identifiers are never taken from
	// untrusted input without validation (see ValidIdent).
	QuoteIdent(ident string) string

	// JSONExtract returns an expression that extracts the JSON value at
	// the given top-level key from the named column.
	JSONExtract(column, key string) string

	// GeneratedColumnDDL returns the column definition fragment for a
	// virtual generated column mirroring json_extract(data, '$.key').
	GeneratedColumnDDL(key string, colType ColumnType) string

	// IndexDDL returns the CREATE INDEX statement for a B-tree index on
	// a generated column.
	IndexDDL(indexName, table, column string) string

	// RegexPredicate returns a boolean SQL expression testing whether
	// expr matches the regular expression bound to the given
	// placeholder parameter.
	RegexPredicate(expr string) string

	// ExplainPrefix returns the statement prefix that makes the engine
	// return its query plan instead of executing the statement.
	ExplainPrefix() string

	// JSONArrayContainsAll returns a boolean SQL expression testing
	// whether the JSON array at expr contains every element of the JSON
	// array bound to the given placeholder parameter. ok reports
	// whether the engine can push this down; when false the caller must
	// filter in memory.
	JSONArrayContainsAll(expr string) (predicate string, ok bool)

	// BeginStatement returns the statement that starts a new
	// transaction with write-intent semantics (so the engine's locking
	// serializes concurrent writers as early as possible).
	BeginStatement() string

	// SavepointStatement, ReleaseStatement and RollbackToStatement
	// return the statements that manage the nested-savepoint stack.
	SavepointStatement(name string) string
	ReleaseStatement(name string) string
	RollbackToStatement(name string) string
}

// ValidIdent reports whether ident is safe to interpolate directly into
// SQL text: non-empty and drawn from [A-Za-z0-9_].
func ValidIdent(ident string) bool {
	if ident == "" {
		return false
	}
	for _, r := range ident {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
