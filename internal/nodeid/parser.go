// internal/nodeid/parser.go
package nodeid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errEmpty = errors.New("reference is empty")

// Parse splits raw into segments. Names may contain letters, digits, `_`
// and `-`, but a name made only of `-` is rejected; an index is a
// non-negative decimal in brackets at the end of a segment.
func Parse(raw string) (*Address, error) {
	if raw == "" {
		return nil, errEmpty
	}
	parts := strings.Split(raw, ".")
	addr := &Address{Segments: make([]Segment, 0, len(parts))}
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("segment %d of %q: %w", i, raw, err)
		}
		addr.Segments = append(addr.Segments, seg)
	}
	return addr, nil
}

func parseSegment(s string) (Segment, error) {
	if s == "" {
		return Segment{}, errors.New("empty segment")
	}
	name, rest, bracketed := strings.Cut(s, "[")
	if err := checkName(name); err != nil {
		return Segment{}, err
	}
	if !bracketed {
		return Named(name), nil
	}

	digits, ok := strings.CutSuffix(rest, "]")
	if !ok || digits == "" || strings.ContainsAny(digits, "[]") {
		return Segment{}, fmt.Errorf("malformed index in %q", s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Segment{}, fmt.Errorf("index in %q is not a number", s)
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return Segment{}, fmt.Errorf("index in %q: %w", s, err)
	}
	return Indexed(name, index), nil
}

func checkName(name string) error {
	if name == "" {
		return errors.New("missing name")
	}
	if strings.Trim(name, "-") == "" {
		return fmt.Errorf("invalid name %q", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("invalid character %q in name %q", r, name)
		}
	}
	return nil
}
