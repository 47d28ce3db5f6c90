package odm

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/kenobix/kenobix"
)

// ForeignKey is a lazily-loaded, cached reference from a local scalar
// field to a document of model T. Embed it as a value field on the
// owning struct; its Go type name ("ForeignKey[...]") is recognized by
// metadataFor and excluded from serialization, so the descriptor is
// never itself a persisted field.
type ForeignKey[T any, PT modelPtr[T]] struct {
	// FKField is the owner's local JSON field holding the reference
	// value.
	FKField string
	// RelatedField is the field on T matched against FKField's value;
	// defaults to FKField when empty.
	RelatedField string
	// Optional permits a nil FKField value and a missing target.
	Optional bool

	mu     sync.Mutex
	cached PT
	loaded bool
}

func (fk *ForeignKey[T, PT]) relatedField() string {
	if fk.RelatedField != "" {
		return fk.RelatedField
	}
	return fk.FKField
}

// Get resolves the related instance, consulting the per-instance cache
// first. fkValue is the owner's current FKField value (nil meaning
// unset).
func (fk *ForeignKey[T, PT]) Get(ctx context.Context, fkValue any) (PT, error) {
	fk.mu.Lock()
	if fk.loaded {
		cached := fk.cached
		fk.mu.Unlock()
		return cached, nil
	}
	fk.mu.Unlock()

	if fkValue == nil {
		if fk.Optional {
			fk.store(nil)
			return nil, nil
		}
		return nil, fmt.Errorf("foreign key %s: %w", fk.FKField, kenobix.ErrMissingRelation)
	}

	related, err := Get[T, PT](ctx, Filters{fk.relatedField(): fkValue})
	if err != nil {
		return nil, err
	}
	if related == nil {
		if fk.Optional {
			fk.store(nil)
			return nil, nil
		}
		return nil, fmt.Errorf("foreign key %s=%v: %w", fk.FKField, fkValue, kenobix.ErrMissingRelation)
	}
	fk.store(related)
	return related, nil
}

func (fk *ForeignKey[T, PT]) store(v PT) {
	fk.mu.Lock()
	fk.cached, fk.loaded = v, true
	fk.mu.Unlock()
}

// Set validates the value to assign to the owner's FKField when the
// descriptor is set to related. Assigning nil is only valid when
// Optional. The caller writes the returned value into the owner's
// FKField and calls Save; this keeps the descriptor free of any
// dependency on the owner's concrete type.
func (fk *ForeignKey[T, PT]) Set(related PT) (fkValue any, err error) {
	if related == nil {
		if !fk.Optional {
			return nil, fmt.Errorf("foreign key %s: %w", fk.FKField, kenobix.ErrInvalidAssignment)
		}
		fk.store(nil)
		return nil, nil
	}

	value, err := fieldValueByJSONName[T, PT](related, fk.relatedField())
	if err != nil {
		return nil, err
	}
	fk.store(related)
	return value, nil
}

// fieldValueByJSONName reads the value of x's field registered under
// jsonName, by metadata lookup rather than a direct Go field name match
// (since model fields may carry an `odm:"..."` tag renaming them).
func fieldValueByJSONName[T any, PT modelPtr[T]](x PT, jsonName string) (any, error) {
	v := reflect.ValueOf(x).Elem()
	md, _ := metadataFor(v.Type())
	for _, fm := range md.fields {
		if fm.jsonName == jsonName {
			return v.Field(fm.structIndex).Interface(), nil
		}
	}
	return nil, fmt.Errorf("field %q not found on %s: %w", jsonName, v.Type().Name(), kenobix.ErrInvalidField)
}

// RelatedSet is the reverse side of a ForeignKey: every instance of T
// whose FKField equals the owning instance's local value. Embed it as a
// value field on the owning struct, one per owning instance, so it is
// naturally scoped per instance without any extra cache machinery.
type RelatedSet[T any, PT modelPtr[T]] struct {
	// FKField is the field on T referencing the owner.
	FKField string
}

// All returns every related instance, optionally capped at limit (0
// meaning no cap).
func (rs *RelatedSet[T, PT]) All(ctx context.Context, localValue any, limit int) ([]PT, error) {
	return Filter[T, PT](ctx, Filters{rs.FKField: localValue}, QueryOptions{Limit: limit})
}

// Filter narrows the related set by additional filters, ANDed with the
// foreign-key match.
func (rs *RelatedSet[T, PT]) Filter(ctx context.Context, localValue any, extra Filters, limit int) ([]PT, error) {
	filters := Filters{rs.FKField: localValue}
	for k, v := range extra {
		filters[k] = v
	}
	return Filter[T, PT](ctx, filters, QueryOptions{Limit: limit})
}

// Count returns the number of related instances.
func (rs *RelatedSet[T, PT]) Count(ctx context.Context, localValue any) (int64, error) {
	return Count[T, PT](ctx, Filters{rs.FKField: localValue})
}

// Add sets obj's FKField to localValue and saves it.
func (rs *RelatedSet[T, PT]) Add(ctx context.Context, obj PT, localValue any) error {
	if err := setFieldByJSONName[T, PT](obj, rs.FKField, localValue); err != nil {
		return err
	}
	return Save[T, PT](ctx, obj)
}

// Remove clears obj's FKField and saves it. Requires the foreign key
// field be nullable.
func (rs *RelatedSet[T, PT]) Remove(ctx context.Context, obj PT) error {
	if err := setFieldByJSONName[T, PT](obj, rs.FKField, nil); err != nil {
		return err
	}
	return Save[T, PT](ctx, obj)
}

// Clear removes every current member of the set.
func (rs *RelatedSet[T, PT]) Clear(ctx context.Context, localValue any) error {
	members, err := rs.All(ctx, localValue, 0)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := rs.Remove(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func setFieldByJSONName[T any, PT modelPtr[T]](x PT, jsonName string, value any) error {
	v := reflect.ValueOf(x).Elem()
	md, _ := metadataFor(v.Type())
	for _, fm := range md.fields {
		if fm.jsonName != jsonName {
			continue
		}
		field := v.Field(fm.structIndex)
		if value == nil {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		rv := reflect.ValueOf(value)
		if field.Type().Kind() == reflect.Ptr && rv.Type() != field.Type() {
			ptr := reflect.New(field.Type().Elem())
			ptr.Elem().Set(rv.Convert(field.Type().Elem()))
			field.Set(ptr)
			return nil
		}
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("field %q not found on %s: %w", jsonName, v.Type().Name(), kenobix.ErrInvalidField)
}

// ManyToMany manages a set-valued relationship materialised through a
// junction collection storing {local_key, remote_key} documents,
// indexed on both.
type ManyToMany[T any, PT modelPtr[T]] struct {
	// Through is the junction collection's name.
	Through string
	// LocalKey and RemoteKey name the junction document's two fields.
	LocalKey, RemoteKey string

	once sync.Once
	coll *kenobix.Collection
}

func (m2m *ManyToMany[T, PT]) junction(ctx context.Context) (*kenobix.Collection, error) {
	db, err := boundDB()
	if err != nil {
		return nil, err
	}
	var initErr error
	m2m.once.Do(func() {
		m2m.coll, initErr = db.Collection(ctx, m2m.Through, m2m.LocalKey, m2m.RemoteKey)
	})
	if initErr != nil {
		return nil, initErr
	}
	return m2m.coll, nil
}

// All returns every T linked to localValue through the junction
// collection.
func (m2m *ManyToMany[T, PT]) All(ctx context.Context, localValue any) ([]PT, error) {
	j, err := m2m.junction(ctx)
	if err != nil {
		return nil, err
	}
	links, err := j.Search(ctx, m2m.LocalKey, localValue, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, len(links))
	for _, link := range links {
		remote, ok := link.Data[m2m.RemoteKey]
		if !ok {
			continue
		}
		id, ok := toInt64(remote)
		if !ok {
			continue
		}
		inst, err := GetByID[T, PT](ctx, id)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			out = append(out, inst)
		}
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// Add links localValue to remoteValue through the junction collection.
func (m2m *ManyToMany[T, PT]) Add(ctx context.Context, localValue, remoteValue any) error {
	j, err := m2m.junction(ctx)
	if err != nil {
		return err
	}
	existing, err := j.Search(ctx, m2m.LocalKey, localValue, 0, 0)
	if err != nil {
		return err
	}
	for _, link := range existing {
		if fmt.Sprint(link.Data[m2m.RemoteKey]) == fmt.Sprint(remoteValue) {
			return nil
		}
	}
	_, err = j.Insert(ctx, kenobix.Document{m2m.LocalKey: localValue, m2m.RemoteKey: remoteValue})
	return err
}

// Remove unlinks localValue from remoteValue.
func (m2m *ManyToMany[T, PT]) Remove(ctx context.Context, localValue, remoteValue any) error {
	j, err := m2m.junction(ctx)
	if err != nil {
		return err
	}
	links, err := j.Search(ctx, m2m.LocalKey, localValue, 0, 0)
	if err != nil {
		return err
	}
	for _, link := range links {
		if fmt.Sprint(link.Data[m2m.RemoteKey]) == fmt.Sprint(remoteValue) {
			_, err := j.RemoveByID(ctx, link.ID)
			return err
		}
	}
	return nil
}

// Clear removes every link for localValue.
func (m2m *ManyToMany[T, PT]) Clear(ctx context.Context, localValue any) error {
	j, err := m2m.junction(ctx)
	if err != nil {
		return err
	}
	_, err = j.Remove(ctx, m2m.LocalKey, localValue)
	return err
}
