package odm

import (
	"fmt"
	"reflect"

	"github.com/kenobix/kenobix"
)

// toDict projects x's declared fields into a JSON-compatible map,
// skipping relationship descriptors and _id.
func toDict[T any, PT modelPtr[T]](x PT) (kenobix.Document, error) {
	v := reflect.ValueOf(x)
	if v.IsNil() {
		return nil, fmt.Errorf("serialize nil instance: %w", kenobix.ErrSerializationError)
	}
	v = v.Elem()
	md, _ := metadataFor(v.Type())

	doc := make(kenobix.Document, len(md.fields))
	for _, fm := range md.fields {
		doc[fm.jsonName] = toJSONValue(v.Field(fm.structIndex))
	}
	return doc, nil
}

// toJSONValue coerces a struct field's reflect.Value into a plain Go
// value safe to pass to encoding/json (scalars, slices, maps, nested
// structs handled recursively).
func toJSONValue(fv reflect.Value) any {
	switch fv.Kind() {
	case reflect.Ptr:
		if fv.IsNil() {
			return nil
		}
		return toJSONValue(fv.Elem())
	case reflect.Slice, reflect.Array:
		out := make([]any, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			out[i] = toJSONValue(fv.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, fv.Len())
		for _, k := range fv.MapKeys() {
			out[fmt.Sprint(k.Interface())] = toJSONValue(fv.MapIndex(k))
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, fv.NumField())
		t := fv.Type()
		for i := 0; i < fv.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			out[lowerFirst(f.Name)] = toJSONValue(fv.Field(i))
		}
		return out
	default:
		return fv.Interface()
	}
}

// fromDict structurally coerces doc into a new *T, validating the
// declared field types. Unconvertible values fail with
// ErrSerializationError.
func fromDict[T any, PT modelPtr[T]](doc kenobix.Document) (PT, error) {
	var zero T
	t := reflect.TypeOf(zero)
	md, _ := metadataFor(t)

	out := reflect.New(t) // *T
	elem := out.Elem()
	for _, fm := range md.fields {
		raw, present := doc[fm.jsonName]
		if !present || raw == nil {
			continue
		}
		field := elem.Field(fm.structIndex)
		if !field.CanSet() {
			continue
		}
		coerced, err := coerceInto(field.Type(), raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w: %v", fm.jsonName, kenobix.ErrSerializationError, err)
		}
		field.Set(coerced)
	}

	return out.Interface().(PT), nil
}

// coerceInto converts a decoded JSON value (bool, float64, string,
// []any, map[string]any, or nil) into target: scalars, optional
// scalars, homogeneous sequences, homogeneous mappings with string
// keys, and nested structs are all supported.
func coerceInto(target reflect.Type, raw any) (reflect.Value, error) {
	if target.Kind() == reflect.Ptr {
		if raw == nil {
			return reflect.Zero(target), nil
		}
		inner, err := coerceInto(target.Elem(), raw)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	}

	rv := reflect.ValueOf(raw)

	switch target.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return reflect.ValueOf(s), nil

	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected bool, got %T", raw)
		}
		return reflect.ValueOf(b), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := raw.(float64)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		out := reflect.New(target).Elem()
		out.SetInt(int64(f))
		return out, nil

	case reflect.Float32, reflect.Float64:
		f, ok := raw.(float64)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		out := reflect.New(target).Elem()
		out.SetFloat(f)
		return out, nil

	case reflect.Slice:
		if rv.Kind() != reflect.Slice {
			return reflect.Value{}, fmt.Errorf("expected array, got %T", raw)
		}
		out := reflect.MakeSlice(target, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			el, err := coerceInto(target.Elem(), rv.Index(i).Interface())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(el)
		}
		return out, nil

	case reflect.Map:
		m, ok := raw.(map[string]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected object, got %T", raw)
		}
		if target.Key().Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("unsupported map key type %s", target.Key())
		}
		out := reflect.MakeMapWithSize(target, len(m))
		for k, v := range m {
			val, err := coerceInto(target.Elem(), v)
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(target.Key()), val)
		}
		return out, nil

	case reflect.Struct:
		m, ok := raw.(map[string]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected object, got %T", raw)
		}
		out := reflect.New(target).Elem()
		for i := 0; i < target.NumField(); i++ {
			f := target.Field(i)
			if !f.IsExported() {
				continue
			}
			v, present := m[lowerFirst(f.Name)]
			if !present || v == nil {
				continue
			}
			coerced, err := coerceInto(f.Type, v)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(coerced)
		}
		return out, nil

	default:
		return reflect.Value{}, fmt.Errorf("unsupported declared field type %s", target)
	}
}
