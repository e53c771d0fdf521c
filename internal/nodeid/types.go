// internal/nodeid/types.go
package nodeid

// NoIndex is the index of a segment written without brackets.
const NoIndex = -1

// Segment is one dot-separated part of an address: a name with an optional
// bracketed index, as in `relu` or `relu[1]`.
type Segment struct {
	Name  string
	Index int
}

// Named returns a segment without an index.
func Named(name string) Segment {
	return Segment{Name: name, Index: NoIndex}
}

// Indexed returns a segment with an index.
func Indexed(name string, index int) Segment {
	return Segment{Name: name, Index: index}
}

// HasIndex reports whether the segment was written with brackets.
func (s Segment) HasIndex() bool {
	return s.Index != NoIndex
}

// Address is a parsed reference. `graph.main.kernel.add[0]` has four
// segments.
type Address struct {
	Segments []Segment
}
