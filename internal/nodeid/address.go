// internal/nodeid/address.go
package nodeid

import (
	"slices"
	"strconv"
	"strings"
)

func (s Segment) String() string {
	if !s.HasIndex() {
		return s.Name
	}
	return s.Name + "[" + strconv.Itoa(s.Index) + "]"
}

// String returns the canonical form Parse accepts. A nil address is empty.
func (a *Address) String() string {
	if a == nil {
		return ""
	}
	parts := make([]string, len(a.Segments))
	for i, s := range a.Segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Len is the number of segments.
func (a *Address) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Segments)
}

// Equal reports whether both addresses have the same segments. Two nil
// addresses are equal.
func (a *Address) Equal(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	return slices.Equal(a.Segments, other.Segments)
}
