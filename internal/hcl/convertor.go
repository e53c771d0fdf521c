package hcl

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Converter is the cty implementation of config.Converter. Both graph file
// formats share it.
type Converter struct{}

// NewConverter creates a new converter.
func NewConverter() *Converter {
	return &Converter{}
}

// Decode converts val into the Go value target points to. val is first
// converted to the cty type implied by the target, so a tuple of numbers
// decodes into a []float64 and a number into an int64.
func (c *Converter) Decode(ctx context.Context, val cty.Value, target any) error {
	if raw, ok := target.(*cty.Value); ok && raw != nil {
		*raw = val
		return nil
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", target)
	}
	switch {
	case val.IsNull():
		return errors.New("value is null")
	case !val.IsWhollyKnown():
		return errors.New("value is not known when the graph is loaded")
	}

	want, err := gocty.ImpliedType(rv.Elem().Interface())
	if err != nil {
		// Interface targets have no implied type.
		return gocty.FromCtyValue(val, target)
	}
	if !val.Type().Equals(want) {
		converted, err := convert.Convert(val, want)
		if err != nil {
			return fmt.Errorf("%s does not convert to %s: %w", val.Type().FriendlyName(), want.FriendlyName(), err)
		}
		ctxlog.FromContext(ctx).Debug("Converted literal.", "from", val.Type().FriendlyName(), "to", want.FriendlyName())
		val = converted
	}
	return gocty.FromCtyValue(val, target)
}
