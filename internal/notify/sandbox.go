// ABOUTME: Converts template context into plain maps, slices and scalars before execution.
// ABOUTME: Templates can then only read data; no methods, funcs or hidden keys are reachable.
package notify

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// deniedKeys are context keys never exposed to templates, whatever their value.
var deniedKeys = map[string]bool{
	"objects": true,
}

// sandboxContext returns a copy of ctx in which every value is a
// map[string]any, []any, string, bool, int64, uint64, float64 or nil.
// Keys starting with "_" and deniedKeys are dropped, so a template
// referencing them fails like any other undefined key.
func sandboxContext(ctx map[string]any) (map[string]any, error) {
	out, err := sandboxValue(reflect.ValueOf(ctx))
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out.(map[string]any), nil
}

func sandboxValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Type() == reflect.TypeOf(time.Time{}) {
		return formatContextTime(v.Interface().(time.Time)), nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return sandboxValue(v.Elem())

	// Named scalar types are flattened to their base type so their methods
	// are not callable from a template.
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return []any{}, nil
		}
		out := make([]any, v.Len())
		for i := range v.Len() {
			item, err := sandboxValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key type %s", ErrSandboxViolation, v.Type().Key())
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			if strings.HasPrefix(key, "_") || deniedKeys[key] {
				continue
			}
			item, err := sandboxValue(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = item
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrSandboxViolation, v.Type())
}

// formatContextTime renders calendar dates as YYYY-MM-DD and instants as RFC 3339.
func formatContextTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}
