package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"strings"

	"github.com/xraph/graflow/serde"
)

// Key derives a content-addressed key "{prefix}_{sha256 hex}" from data.
// Equal data yields equal keys regardless of map ordering.
func Key(prefix string, data map[string]any) string {
	sum := sha256.Sum256(serde.CanonicalJSON(data))
	return prefix + "_" + hex.EncodeToString(sum[:])
}

// KeyFromFields derives a key from the named fields of obj. obj may be a
// map with string keys or a struct, whose fields are matched by json tag
// name first and Go field name second. Missing fields contribute nil.
func KeyFromFields(prefix string, obj any, fields []string) string {
	data := make(map[string]any, len(fields))
	for _, f := range fields {
		data[f] = field(obj, f)
	}
	return Key(prefix, data)
}

func field(obj any, name string) any {
	if m, ok := obj.(map[string]any); ok {
		return m[name]
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if tag == name {
				return rv.Field(i).Interface()
			}
		}
		if sf, ok := t.FieldByName(name); ok && sf.IsExported() {
			return rv.FieldByIndex(sf.Index).Interface()
		}
	}
	return nil
}
