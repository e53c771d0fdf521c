// Package config defines the format-agnostic model of a graph file, along
// with the core interfaces (Loader, Converter) for loading it from various
// sources.
//
// The `config.Model` is the single input of the frontend, which compiles it
// into a `model.GraphCompilerInfo`. Concrete implementations of the
// interfaces, for HCL and YAML, are provided in separate packages.
package config
