package registry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// DecodeAttrs decodes kernel attributes into the struct target points to.
// Struct fields are matched by their `cty` tag; attributes not present keep
// the field's current value, and attributes with no matching field are an
// error.
func DecodeAttrs(attrs map[string]cty.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("attribute target must be a pointer to a struct, got %T", target)
	}
	fields := attrFields(rv.Elem().Type())

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		idx, ok := fields[name]
		if !ok {
			return fmt.Errorf("unsupported attribute %q", name)
		}
		val := attrs[name]
		if val.IsNull() {
			continue
		}
		field := rv.Elem().Field(idx)
		ty, err := gocty.ImpliedType(field.Interface())
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		converted, err := convert.Convert(val, ty)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		if err := gocty.FromCtyValue(converted, field.Addr().Interface()); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}
	return nil
}

// attrFields maps tag names to field indexes.
func attrFields(t reflect.Type) map[string]int {
	out := make(map[string]int)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := strings.Split(field.Tag.Get("cty"), ",")[0]
		if name != "" && name != "-" {
			out[name] = i
		}
	}
	return out
}
