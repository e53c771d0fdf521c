package memory

import "sort"

// somasAlign is the offset granularity inside the shared dynamic block.
const somasAlign = 64

// Interval is one tensor's footprint for the reuse analysis: its size and the
// inclusive range of execution-order positions during which it is live.
type Interval struct {
	Size  int
	Start int
	End   int
}

// Overlaps reports whether two live ranges share at least one position.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// Somas assigns every interval an offset inside one shared block so that any
// two intervals whose live ranges overlap occupy disjoint byte ranges. It
// returns the offsets (indexed like the input) and the block size.
//
// Placement is greedy: largest first, each at the lowest offset that does not
// collide with an already placed, live-overlapping interval.
func Somas(intervals []Interval) ([]int, int) {
	offsets := make([]int, len(intervals))
	sizes := make([]int, len(intervals))
	order := make([]int, len(intervals))
	for i, iv := range intervals {
		sizes[i] = roundUp(max(iv.Size, 1), somasAlign)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if sizes[ia] != sizes[ib] {
			return sizes[ia] > sizes[ib]
		}
		return intervals[ia].Start < intervals[ib].Start
	})

	type placed struct{ off, size int }
	var done []int
	total := 0
	for _, i := range order {
		var busy []placed
		for _, j := range done {
			if intervals[i].Overlaps(intervals[j]) {
				busy = append(busy, placed{off: offsets[j], size: sizes[j]})
			}
		}
		sort.Slice(busy, func(a, b int) bool { return busy[a].off < busy[b].off })

		off := 0
		for _, p := range busy {
			if off+sizes[i] <= p.off {
				break
			}
			off = max(off, p.off+p.size)
		}
		offsets[i] = off
		total = max(total, off+sizes[i])
		done = append(done, i)
	}
	return offsets, total
}

func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}
