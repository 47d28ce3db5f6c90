package odm

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kenobix/kenobix"
	"github.com/stretchr/testify/require"
)

func openBoundTestDB(t *testing.T) *kenobix.Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := kenobix.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		Unbind()
		_ = db.Close()
	})
	Bind(db)
	return db
}

type baseModel struct {
	id int64
}

func (m *baseModel) ID() int64     { return m.id }
func (m *baseModel) SetID(id int64) { m.id = id }

type User struct {
	baseModel
	Name string `odm:"name"`
	Age  int    `odm:"age"`
}

type Category struct {
	baseModel
	Title string `odm:"title"`
}

type Box struct {
	baseModel
	Label string `odm:"label"`
}

type Address struct {
	baseModel
	City string `odm:"city"`
}

func TestPluralizationRules(t *testing.T) {
	require.Equal(t, "users", deriveCollectionName("User"))
	require.Equal(t, "categories", deriveCollectionName("Category"))
	require.Equal(t, "boxes", deriveCollectionName("Box"))
	require.Equal(t, "addresses", deriveCollectionName("Address"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	openBoundTestDB(t)
	Register[User, *User](WithIndexedFields("name"))
	Register[User, *User](WithIndexedFields("age")) // second call is a no-op

	md, _ := metadataFor(reflect.TypeOf(User{}))
	require.Equal(t, []string{"name"}, md.indexedFields)
}

func TestUnregisteredModelFallsBackToDerivedMetadata(t *testing.T) {
	openBoundTestDB(t)
	md, _ := metadataFor(reflect.TypeOf(Category{}))
	require.Equal(t, "categories", md.collectionName)
}

func TestSaveInsertsThenUpdates(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	u := &User{Name: "Alice", Age: 30}
	require.NoError(t, Save[User](ctx, u))
	require.NotZero(t, u.ID())

	u.Age = 31
	require.NoError(t, Save[User](ctx, u))

	got, err := GetByID[User](ctx, u.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 31, got.Age)
}

func TestGetReturnsNilWhenNoMatch(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	got, err := Get[User](ctx, Filters{"name": "nobody"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFilterWithLookupOperators(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User](WithIndexedFields("age"))

	ages := []int{17, 18, 19, 20, 21}
	for _, age := range ages {
		require.NoError(t, Save[User](ctx, &User{Name: "u", Age: age}))
	}

	n, err := Count[User](ctx, Filters{"age__gte": 18, "age__lt": 21})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestInsertManyAssignsIDs(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	users := []*User{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	require.NoError(t, InsertMany[User](ctx, users))
	for _, u := range users {
		require.NotZero(t, u.ID())
	}

	all, err := All[User](ctx, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestDeleteManyRequiresFilters(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	_, err := DeleteMany[User](ctx, Filters{})
	require.ErrorIs(t, err, kenobix.ErrMissingPredicate)
}

func TestDeleteManyRemovesMatches(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User](WithIndexedFields("age"))

	require.NoError(t, InsertMany[User](ctx, []*User{
		{Name: "a", Age: 10}, {Name: "b", Age: 10}, {Name: "c", Age: 20},
	}))

	n, err := DeleteMany[User](ctx, Filters{"age": 10})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	remaining, err := Count[User](ctx, Filters{})
	require.NoError(t, err)
	require.EqualValues(t, 1, remaining)
}

func TestDeleteFailsOnUnsavedInstance(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	err := Delete[User](ctx, &User{Name: "unsaved"})
	require.ErrorIs(t, err, kenobix.ErrUnsavedInstance)
}

func TestDeleteRemovesSavedInstance(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	u := &User{Name: "Alice"}
	require.NoError(t, Save[User](ctx, u))
	require.NoError(t, Delete[User](ctx, u))

	got, err := GetByID[User](ctx, u.ID())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestOperationsWithoutBindingFail(t *testing.T) {
	Unbind()
	ctx := context.Background()
	_, err := Get[User](ctx, Filters{})
	require.ErrorIs(t, err, kenobix.ErrDatabaseNotBound)
}

func TestBijectionThroughToDictFromDict(t *testing.T) {
	openBoundTestDB(t)
	ctx := context.Background()
	Register[User, *User]()

	u := &User{Name: "Bijective", Age: 42}
	require.NoError(t, Save[User](ctx, u))

	got, err := GetByID[User](ctx, u.ID())
	require.NoError(t, err)
	require.Equal(t, u.Name, got.Name)
	require.Equal(t, u.Age, got.Age)
}
