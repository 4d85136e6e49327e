package perf

import "math"

// Window is the slice of a long list that needs rendering.
type Window struct {
	Start   int     `json:"start"` // first index, inclusive
	End     int     `json:"end"`   // last index, exclusive
	OffsetY float64 `json:"offsetY"`
	TotalY  float64 `json:"totalHeight"`
}

// VisibleRange computes which rows of a fixed-height list intersect the
// viewport, padded by overscan rows on each side. The result always lies
// within [0, total].
func VisibleRange(scrollTop, viewportHeight, itemHeight float64, total, overscan int) Window {
	if total <= 0 || !(itemHeight > 0) || math.IsInf(itemHeight, 1) {
		return Window{}
	}
	overscan = min(max(overscan, 0), total)

	start := max(rowsIn(scrollTop, itemHeight, total)-overscan, 0)
	visible := rowsIn(viewportHeight, itemHeight, total) + 1
	end := min(start+visible+2*overscan, total)
	start = min(start, end)
	return Window{
		Start:   start,
		End:     end,
		OffsetY: float64(start) * itemHeight,
		TotalY:  float64(total) * itemHeight,
	}
}

// rowsIn is the number of whole rows in height, clamped to [0, limit].
func rowsIn(height, itemHeight float64, limit int) int {
	n := math.Floor(height / itemHeight)
	switch {
	case math.IsNaN(n) || n <= 0:
		return 0
	case n >= float64(limit):
		return limit
	}
	return int(n)
}
