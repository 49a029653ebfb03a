package transport

import "sort"

// offsetRange is a half-open byte range [Start, End) within a stream's or
// crypto stream's send buffer.
type offsetRange struct {
	Start uint64
	End   uint64
}

// offsetRangeSet is a sorted, merged set of disjoint byte ranges, used to
// track which bytes of a stream or CRYPTO stream have been acked (§4.8).
// It is the interval-set arithmetic the session notifier needs for
// on_frame_acked/on_frame_lost/retransmit_frames.
type offsetRangeSet struct {
	ranges []offsetRange // ascending, non-overlapping, non-adjacent
}

// Add merges [start, end) into the set.
func (s *offsetRangeSet) Add(start, end uint64) {
	if start >= end {
		return
	}
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= start })
	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= end {
		if s.ranges[j].Start < start {
			start = s.ranges[j].Start
		}
		if s.ranges[j].End > end {
			end = s.ranges[j].End
		}
		j++
	}
	merged := offsetRange{Start: start, End: end}
	s.ranges = append(s.ranges[:i], append([]offsetRange{merged}, s.ranges[j:]...)...)
}

// Contains reports whether [start, end) is entirely covered by the set.
func (s *offsetRangeSet) Contains(start, end uint64) bool {
	for _, r := range s.ranges {
		if r.Start <= start && end <= r.End {
			return true
		}
	}
	return false
}

// Subtract returns the portions of [start, end) NOT covered by the set:
// the bytes within that range still needing (re)transmission.
func (s *offsetRangeSet) Subtract(start, end uint64) []offsetRange {
	var out []offsetRange
	cur := start
	for _, r := range s.ranges {
		if r.End <= cur {
			continue
		}
		if r.Start >= end {
			break
		}
		if r.Start > cur {
			out = append(out, offsetRange{Start: cur, End: r.Start})
		}
		if r.End > cur {
			cur = r.End
		}
	}
	if cur < end {
		out = append(out, offsetRange{Start: cur, End: end})
	}
	return out
}

// Total returns the total number of bytes covered by the set.
func (s *offsetRangeSet) Total() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.End - r.Start
	}
	return total
}
