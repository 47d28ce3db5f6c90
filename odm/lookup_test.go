package odm

import (
	"testing"

	"github.com/kenobix/kenobix"
	"github.com/stretchr/testify/require"
)

func TestSplitLookupNoSuffixMeansEquality(t *testing.T) {
	field, op, err := splitLookup("age")
	require.NoError(t, err)
	require.Equal(t, "age", field)
	require.Equal(t, kenobix.OpEq, op)
}

func TestSplitLookupKnownSuffixes(t *testing.T) {
	cases := map[string]kenobix.Op{
		"age__gt":     kenobix.OpGt,
		"age__gte":    kenobix.OpGte,
		"age__lt":     kenobix.OpLt,
		"age__lte":    kenobix.OpLte,
		"age__ne":     kenobix.OpNe,
		"tags__in":    kenobix.OpIn,
		"name__like":  kenobix.OpLike,
		"note__isnull": kenobix.OpIsNull,
	}
	for key, want := range cases {
		field, op, err := splitLookup(key)
		require.NoError(t, err)
		require.Equal(t, want, op)
		require.NotContains(t, field, "__")
	}
}

func TestSplitLookupUnknownSuffixFails(t *testing.T) {
	_, _, err := splitLookup("age__bogus")
	require.ErrorIs(t, err, kenobix.ErrUnknownLookup)
}

func TestToPredicatesTranslatesEveryFilter(t *testing.T) {
	preds, err := toPredicates(Filters{"age__gte": 18, "name": "Alice"})
	require.NoError(t, err)
	require.Len(t, preds, 2)
}
