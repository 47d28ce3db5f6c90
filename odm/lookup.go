package odm

import (
	"fmt"
	"strings"

	"github.com/kenobix/kenobix"
)

// Filters is a keyword-argument style filter map: "<field>" or
// "<field>__<op>" to a value (e.g. "age__gte": 18).
type Filters map[string]any

// lookupSuffixes maps a filter key's __ suffix to a kenobix.Op. An
// absent suffix means equality.
var lookupSuffixes = map[string]kenobix.Op{
	"gt":     kenobix.OpGt,
	"gte":    kenobix.OpGte,
	"lt":     kenobix.OpLt,
	"lte":    kenobix.OpLte,
	"ne":     kenobix.OpNe,
	"in":     kenobix.OpIn,
	"like":   kenobix.OpLike,
	"isnull": kenobix.OpIsNull,
}

// toPredicates translates a Filters map into the conjunction of
// kenobix.Predicate the collection's compiler consumes. Unknown __op
// suffixes fail with ErrUnknownLookup.
func toPredicates(f Filters) ([]kenobix.Predicate, error) {
	preds := make([]kenobix.Predicate, 0, len(f))
	for key, value := range f {
		field, op, err := splitLookup(key)
		if err != nil {
			return nil, err
		}
		preds = append(preds, kenobix.Predicate{Field: field, Op: op, Value: value})
	}
	return preds, nil
}

func splitLookup(key string) (field string, op kenobix.Op, err error) {
	idx := strings.LastIndex(key, "__")
	if idx < 0 {
		return key, kenobix.OpEq, nil
	}
	field, suffix := key[:idx], key[idx+2:]
	mapped, ok := lookupSuffixes[suffix]
	if !ok {
		return "", 0, fmt.Errorf("lookup %q: %w", key, kenobix.ErrUnknownLookup)
	}
	return field, mapped, nil
}
