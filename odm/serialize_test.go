package odm

import (
	"testing"

	"github.com/kenobix/kenobix"
	"github.com/stretchr/testify/require"
)

type Address2 struct {
	City string `odm:"city"`
	Zip  string `odm:"zip"`
}

type Profile struct {
	baseModel
	Name    string         `odm:"name"`
	Tags    []string       `odm:"tags"`
	Scores  map[string]int `odm:"scores"`
	Address Address2       `odm:"address"`
	Note    *string        `odm:"note"`
}

func TestToDictExcludesUnexportedAndRelationFields(t *testing.T) {
	note := "hi"
	p := &Profile{
		Name:   "Ada",
		Tags:   []string{"a", "b"},
		Scores: map[string]int{"math": 90},
		Address: Address2{City: "NYC", Zip: "10001"},
		Note:   &note,
	}
	doc, err := toDict[Profile, *Profile](p)
	require.NoError(t, err)
	require.Equal(t, "Ada", doc["name"])
	require.ElementsMatch(t, []any{"a", "b"}, doc["tags"])
	require.Equal(t, "hi", doc["note"])
	addr := doc["address"].(map[string]any)
	require.Equal(t, "NYC", addr["city"])
	require.NotContains(t, doc, "id")

	postDoc, err := toDict[Post, *Post](&Post{Title: "t"})
	require.NoError(t, err)
	require.NotContains(t, postDoc, "author") // ForeignKey descriptor field
}

func TestToDictNilPointerFails(t *testing.T) {
	var p *Profile
	_, err := toDict[Profile, *Profile](p)
	require.ErrorIs(t, err, kenobix.ErrSerializationError)
}

func TestFromDictRoundTripsNestedStructsAndSlices(t *testing.T) {
	doc := kenobix.Document{
		"name":   "Grace",
		"tags":   []any{"x", "y"},
		"scores": map[string]any{"cs": float64(100)},
		"address": map[string]any{
			"city": "Boston",
			"zip":  "02108",
		},
	}
	got, err := fromDict[Profile, *Profile](doc)
	require.NoError(t, err)
	require.Equal(t, "Grace", got.Name)
	require.Equal(t, []string{"x", "y"}, got.Tags)
	require.Equal(t, 100, got.Scores["cs"])
	require.Equal(t, "Boston", got.Address.City)
}

func TestFromDictSkipsAbsentAndNilFields(t *testing.T) {
	doc := kenobix.Document{"name": "Partial"}
	got, err := fromDict[Profile, *Profile](doc)
	require.NoError(t, err)
	require.Equal(t, "Partial", got.Name)
	require.Nil(t, got.Tags)
	require.Nil(t, got.Note)
}

func TestFromDictTypeMismatchFails(t *testing.T) {
	doc := kenobix.Document{"name": 42.0} // name expects a string
	_, err := fromDict[Profile, *Profile](doc)
	require.ErrorIs(t, err, kenobix.ErrSerializationError)
}
