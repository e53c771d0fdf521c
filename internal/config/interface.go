package config

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every graph file found under paths, translates it into the
	// format-agnostic model, and returns a matching Converter.
	Load(ctx context.Context, paths ...string) (*Model, Converter, error)
}

// Converter is the bridge between the literal values of a graph file and the
// Go types the frontend works with.
type Converter interface {
	// Decode converts val into the Go value target points to, applying the
	// usual cty conversions (a tuple of numbers becomes a []float64, a number
	// a float64, and so on).
	Decode(ctx context.Context, val cty.Value, target any) error
}
