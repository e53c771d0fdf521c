// Package frontend turns a loaded config.Model into the compiled program the
// scheduler consumes.
//
// It stands in for a real compiler: references are resolved into model.Ref
// values, literal parameter values are decoded into host tensors, kernel
// outputs the file leaves out are inferred through the registry, and ref
// outputs and the communication flag are taken from the kernel type. Every
// graph gets a CPU device context; graphs naming the same device share it.
//
// Compile reports the first problem it hits, then runs the structural checks
// of model.Validate and the kernel binding checks of registry.Validate, each
// of which aggregates everything it finds.
package frontend
