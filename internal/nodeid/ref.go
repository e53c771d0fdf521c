// internal/nodeid/ref.go
package nodeid

import (
	"fmt"

	"github.com/vk/flowgrid/internal/model"
)

// ParseRef parses a value reference. Accepted forms:
//
//	param.<name>
//	kernel.<name>[<index>]
//	graph.<graph>.param.<name>
//	graph.<graph>.kernel.<name>[<index>]
//
// A kernel reference without an index points at output 0.
func ParseRef(raw string) (model.Ref, error) {
	addr, err := Parse(raw)
	if err != nil {
		return model.Ref{}, fmt.Errorf("invalid reference %q: %w", raw, err)
	}
	return addr.Ref()
}

// Ref interprets the address as a value reference.
func (a *Address) Ref() (model.Ref, error) {
	path := a.Segments
	var ref model.Ref
	if len(path) == 4 {
		if path[0].Name != "graph" || path[0].HasIndex() || path[1].HasIndex() {
			return model.Ref{}, fmt.Errorf("invalid reference %q: qualified references start with graph.<name>", a)
		}
		ref.Graph = path[1].Name
		path = path[2:]
	}
	if len(path) != 2 {
		return model.Ref{}, fmt.Errorf("invalid reference %q: want param.<name> or kernel.<name>[i], optionally prefixed by graph.<name>", a)
	}

	kind, name := path[0], path[1]
	if kind.HasIndex() {
		return model.Ref{}, fmt.Errorf("invalid reference %q: %s cannot be indexed", a, kind.Name)
	}
	switch kind.Name {
	case "param":
		if name.HasIndex() {
			return model.Ref{}, fmt.Errorf("invalid reference %q: parameters have a single value", a)
		}
		ref.Kind = model.RefParam
	case "kernel":
		ref.Kind = model.RefKernel
		if name.HasIndex() {
			ref.Index = name.Index
		}
	default:
		return model.Ref{}, fmt.Errorf("invalid reference %q: unknown kind %q", a, kind.Name)
	}
	ref.Name = name.Name
	return ref, nil
}

// ParseRefs parses a list of references, naming the position of the first
// bad one.
func ParseRefs(raws []string) ([]model.Ref, error) {
	out := make([]model.Ref, 0, len(raws))
	for i, raw := range raws {
		ref, err := ParseRef(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, ref)
	}
	return out, nil
}
