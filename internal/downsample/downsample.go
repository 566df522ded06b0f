// Package downsample reduces an ordered time series to a fixed cardinality.
//
// The equity-curve feed replays each agent's full snapshot history every
// cycle; series grow without bound, so they are cut down to at most
// MaxPoints approximately evenly spaced samples. The reduction is
// deterministic and always keeps the first and last record, so chart
// endpoints never drift between publishes.
package downsample

import "math"

// MaxPoints is the fixed output cardinality. Not user-configurable.
const MaxPoints = 500

// Series selects at most max points from a chronologically ordered slice,
// preserving order and both endpoints. For len(records) <= max the input is
// returned unchanged.
func Series[T any](records []T, max int) []T {
	n := len(records)
	if n <= max || max < 2 {
		return records
	}

	// Rank r (1-based) maps to sample index round(1 + (r-1)(n-1)/(max-1)).
	// Rounding collapses neighboring ranks onto the same index and pushes
	// ranks beyond max past the end of the series; dropping both leaves the
	// distinct in-range indices in ascending order.
	seen := make(map[int]struct{}, max)
	indices := make([]int, 0, max)
	for r := 1; r <= n; r++ {
		var idx int
		switch r {
		case 1:
			idx = 1
		case n:
			idx = n
		default:
			idx = 1 + int(math.Round(float64(r-1)*float64(n-1)/float64(max-1)))
		}
		if idx > n {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		indices = append(indices, idx)
	}

	if len(indices) > max {
		indices = indices[:max]
	}

	out := make([]T, 0, len(indices))
	for _, idx := range indices {
		out = append(out, records[idx-1])
	}
	return out
}
