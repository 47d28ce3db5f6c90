package kenobix

import (
	"fmt"

	"github.com/kenobix/kenobix/internal/dialect"
)

// Op is a comparison operator a Predicate applies between a field and a
// value. These mirror the ODM's lookup operators so the same routing
// rules (indexed generated-column form vs. JSON-extract scan form) serve
// both the collection's query compiler and the ODM's lookup-operator
// translation.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpLike
	OpIsNull
)

// neverIndexed reports whether op can never be routed to a generated
// column, regardless of whether the field is indexed: LIKE always emits
// the JSON-extract/regex form.
func (op Op) neverIndexed() bool {
	return op == OpLike
}

func (op Op) sqlOperator() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpLike:
		return "LIKE"
	default:
		return "="
	}
}

// Predicate is one (field, op, value) triple in a query's conjunction.
type Predicate struct {
	Field string
	Op    Op
	Value any // []any for OpIn; bool for OpIsNull; otherwise a scalar
}

// Eq builds an equality predicate, the form used by Search.
func Eq(field string, value any) Predicate { return Predicate{Field: field, Op: OpEq, Value: value} }

// compile renders a single predicate to a parameterised SQL boolean
// expression, routing to the generated column when the field is indexed
// and the operator supports indexed routing.
func (c *Collection) compile(p Predicate) (expr string, args []any, err error) {
	if !dialect.ValidIdent(p.Field) && !isDottedPath(p.Field) {
		return "", nil, fmt.Errorf("predicate field %q: %w", p.Field, ErrInvalidField)
	}

	indexed := c.indexedSet[p.Field] && !p.Op.neverIndexed()
	column := c.db.dialect.QuoteIdent(p.Field)
	extract := c.db.dialect.JSONExtract("data", p.Field)
	lhs := extract
	if indexed {
		lhs = column
	}

	switch p.Op {
	case OpIsNull:
		want, _ := p.Value.(bool)
		if want {
			return fmt.Sprintf("%s IS NULL", lhs), nil, nil
		}
		return fmt.Sprintf("%s IS NOT NULL", lhs), nil, nil

	case OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("predicate %q: IN value must be a slice: %w", p.Field, ErrInvalidField)
		}
		if len(values) == 0 {
			// An empty IN-list matches nothing; short-circuit to a
			// statically-false predicate rather than emitting invalid SQL.
			return "0", nil, nil
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = "?"
		}
		return fmt.Sprintf("%s IN (%s)", lhs, joinComma(placeholders)), values, nil

	case OpLike:
		return fmt.Sprintf("%s LIKE ?", extract), []any{p.Value}, nil

	default:
		return fmt.Sprintf("%s %s ?", lhs, p.Op.sqlOperator()), []any{p.Value}, nil
	}
}

// compileAll ANDs together every predicate in preds. The compiler never
// rewrites across predicates — index selection among eligible indexed
// columns is left to the engine.
func (c *Collection) compileAll(preds []Predicate) (whereSQL string, args []any, err error) {
	if len(preds) == 0 {
		return "1=1", nil, nil
	}
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		clause, pargs, err := c.compile(p)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "("+clause+")")
		args = append(args, pargs...)
	}
	return joinAnd(clauses), args, nil
}

func joinComma(parts []string) string { return joinSep(parts, ", ") }
func joinAnd(parts []string) string   { return joinSep(parts, " AND ") }

func joinSep(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func isDottedPath(field string) bool {
	// This version of the engine only supports simple top-level keys;
	// dotted paths are rejected by ValidIdent at the caller and never
	// reach here with true. Kept as a named hook so a future nested-path
	// version has an obvious seam.
	_ = field
	return false
}
