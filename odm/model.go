// Package odm is a typed object-document mapping layered on the
// kenobix collection API: declarative model structs, mapped 1:1 to
// collections, with lazy relationship descriptors and Django-style
// lookup-operator filtering.
package odm

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/kenobix/kenobix"
)

// Model is implemented by every document type registered with the ODM,
// via a pointer receiver (SetID must mutate the instance). ID returns
// the instance's assigned primary key, or 0 if unsaved; SetID is called
// by the ODM after a successful insert and on every instance it loads
// from storage.
type Model interface {
	ID() int64
	SetID(id int64)
}

// modelPtr constrains a type parameter PT to "pointer to T, satisfying
// Model". Go generics have no direct way to say "T's pointer type
// implements this interface", so every exported function below takes
// two type parameters, T (the struct) and PT (its pointer type); PT is
// inferred automatically whenever a *T value appears among the
// function's arguments.
type modelPtr[T any] interface {
	*T
	Model
}

// metadata is the class-side description of a registered model,
// derived once by Register and cached by reflect.Type.
type metadata struct {
	collectionName string
	indexedFields  []string
	fields         []fieldMeta
}

type fieldMeta struct {
	structIndex int
	jsonName    string
}

var (
	registryMu sync.RWMutex
	registry   = map[reflect.Type]*metadata{}

	boundMu sync.RWMutex
	bound   *kenobix.Database
)

// Bind associates db with every registered (and future) model. The
// binding is process-wide global state, intentionally: it lets every
// package define models and call package-level functions like Get and
// Save without threading a database handle through every call.
func Bind(db *kenobix.Database) {
	boundMu.Lock()
	defer boundMu.Unlock()
	bound = db
}

// Unbind clears the process-wide database binding.
func Unbind() {
	boundMu.Lock()
	defer boundMu.Unlock()
	bound = nil
}

func boundDB() (*kenobix.Database, error) {
	boundMu.RLock()
	defer boundMu.RUnlock()
	if bound == nil {
		return nil, kenobix.ErrDatabaseNotBound
	}
	return bound, nil
}

// RegisterOption configures Register.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	collectionName string
	indexedFields  []string
}

// WithCollectionName overrides the derived collection name.
func WithCollectionName(name string) RegisterOption {
	return func(o *registerOptions) { o.collectionName = name }
}

// WithIndexedFields declares which JSON fields get a generated-column
// index.
func WithIndexedFields(fields ...string) RegisterOption {
	return func(o *registerOptions) { o.indexedFields = fields }
}

// Register derives and caches metadata for model type T: its
// collection name (explicit via WithCollectionName, otherwise derived
// from the Go type name) and its serializable field set (every
// exported struct field not tagged odm:"-" and not a relationship
// descriptor). It is idempotent; calling it more than once for the
// same T is a no-op after the first call.
func Register[T any, PT modelPtr[T]](opts ...RegisterOption) {
	var zero T
	t := reflect.TypeOf(zero)

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[t]; ok {
		return
	}

	o := registerOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	md := deriveFieldsAndName(t)
	if o.collectionName != "" {
		md.collectionName = o.collectionName
	}
	md.indexedFields = o.indexedFields

	registry[t] = md
}

func metadataFor(t reflect.Type) (*metadata, reflect.Type) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	registryMu.RLock()
	md, ok := registry[t]
	registryMu.RUnlock()
	if ok {
		return md, t
	}

	// A model used without an explicit Register call still gets a
	// working collection name and field set derived from its struct
	// shape; it just has no declared indexed fields.
	fallback := deriveFieldsAndName(t)
	registryMu.Lock()
	registry[t] = fallback
	registryMu.Unlock()
	return fallback, t
}

func deriveFieldsAndName(t reflect.Type) *metadata {
	md := &metadata{collectionName: deriveCollectionName(t.Name())}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || isRelationType(f.Type) {
			continue
		}
		tag := f.Tag.Get("odm")
		if tag == "-" {
			continue
		}
		jsonName := tag
		if jsonName == "" {
			jsonName = lowerFirst(f.Name)
		}
		md.fields = append(md.fields, fieldMeta{structIndex: i, jsonName: jsonName})
	}
	return md
}

func collectionFor[T any, PT modelPtr[T]](ctx context.Context) (*kenobix.Collection, *metadata, error) {
	db, err := boundDB()
	if err != nil {
		return nil, nil, err
	}
	var zero T
	md, _ := metadataFor(reflect.TypeOf(zero))
	coll, err := db.Collection(ctx, md.collectionName, md.indexedFields...)
	if err != nil {
		return nil, nil, err
	}
	return coll, md, nil
}

// deriveCollectionName applies the frozen pluralisation rules: lower-
// case, CamelCase to snake_case, then pluralise.
func deriveCollectionName(typeName string) string {
	snake := camelToSnake(typeName)
	return pluralize(snake)
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// pluralize applies the frozen suffix rules in order; the rule order is
// part of the contract, not a heuristic — changing it would rename
// every existing collection.
func pluralize(word string) string {
	if word == "" {
		return word
	}
	lower := word
	switch {
	case strings.HasSuffix(lower, "s"),
		strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"),
		strings.HasSuffix(lower, "sh"):
		return lower + "es"
	case len(lower) >= 2 && isConsonant(lower[len(lower)-2]) && lower[len(lower)-1] == 'y':
		return lower[:len(lower)-1] + "ies"
	default:
		return lower + "s"
	}
}

func isConsonant(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return false
	default:
		return true
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func isRelationType(t reflect.Type) bool {
	name := t.Name()
	return strings.HasPrefix(name, "ForeignKey") ||
		strings.HasPrefix(name, "RelatedSet") ||
		strings.HasPrefix(name, "ManyToMany")
}
