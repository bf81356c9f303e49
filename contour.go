package terrain

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MaxContourLevels is the maximum number of levels that Contours will trace.
const MaxContourLevels = 10000

// A ContourLine is a line of constant elevation.
type ContourLine struct {
	ID        int
	Elevation float64
	Vertices  [][3]float64
	Closed    bool
}

// A ContourSet is the set of contour lines of a raster.
type ContourSet struct {
	EPSG     int
	Interval float64
	Base     float64
	Lines    []ContourLine
}

type contourOptions struct {
	interval float64
	base     float64
}

type ContourOption func(*contourOptions)

// WithInterval sets the vertical interval between contour levels.
func WithInterval(interval float64) ContourOption {
	return func(o *contourOptions) {
		o.interval = interval
	}
}

// WithBase sets the elevation offset of contour levels.
func WithBase(base float64) ContourOption {
	return func(o *contourOptions) {
		o.base = base
	}
}

// An edgeKey identifies a grid edge between two adjacent pixel centres. A
// horizontal edge joins (i, j) and (i+1, j), a vertical edge joins (i, j) and
// (i, j+1).
type edgeKey struct {
	vertical bool
	i, j     int
}

type contourSegment struct {
	a, b edgeKey
}

// Contours traces contour lines over r at levels base + k*interval strictly
// above the minimum and not above the maximum valid value. Values are taken at
// pixel centres. Cells with any invalid corner are skipped.
func Contours(ctx context.Context, r *Raster, options ...ContourOption) (*ContourSet, error) {
	o := contourOptions{
		interval: 1,
	}
	for _, option := range options {
		option(&o)
	}
	if !(o.interval > 0) || math.IsInf(o.interval, 1) {
		return nil, fmt.Errorf("%w: invalid interval %g", ErrContour, o.interval)
	}

	values := make([]float64, 0, len(r.Samples))
	for _, value := range r.Samples {
		if r.valid(value) {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no valid cells", ErrContour)
	}
	minValue, maxValue := floats.Min(values), floats.Max(values)

	levels, err := contourLevels(minValue, maxValue, o.interval, o.base)
	if err != nil {
		return nil, err
	}

	set := &ContourSet{
		EPSG:     r.EPSG,
		Interval: o.interval,
		Base:     o.base,
	}
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, line := range traceLevel(r, level) {
			line.ID = len(set.Lines)
			set.Lines = append(set.Lines, line)
		}
	}
	return set, nil
}

func contourLevels(minValue, maxValue, interval, base float64) ([]float64, error) {
	k := math.Floor((minValue-base)/interval) + 1
	for base+(k-1)*interval > minValue {
		k--
	}
	for base+k*interval <= minValue {
		k++
	}
	var levels []float64
	for level := base + k*interval; level <= maxValue; level = base + k*interval {
		if len(levels) == MaxContourLevels {
			return nil, fmt.Errorf("%w: more than %d levels", ErrContour, MaxContourLevels)
		}
		levels = append(levels, level)
		k++
	}
	return levels, nil
}

// traceLevel returns the contour lines of r at level.
func traceLevel(r *Raster, level float64) []ContourLine {
	var segments []contourSegment
	for j := range r.Height - 1 {
		for i := range r.Width - 1 {
			segments = cellSegments(r, level, i, j, segments)
		}
	}
	if len(segments) == 0 {
		return nil
	}

	segmentsByEdge := make(map[edgeKey][]int, 2*len(segments))
	for index, segment := range segments {
		segmentsByEdge[segment.a] = append(segmentsByEdge[segment.a], index)
		segmentsByEdge[segment.b] = append(segmentsByEdge[segment.b], index)
	}
	used := make([]bool, len(segments))
	next := func(key edgeKey) (edgeKey, bool) {
		for _, index := range segmentsByEdge[key] {
			if used[index] {
				continue
			}
			used[index] = true
			if segments[index].a == key {
				return segments[index].b, true
			}
			return segments[index].a, true
		}
		return edgeKey{}, false
	}

	var lines []ContourLine
	for index, segment := range segments {
		if used[index] {
			continue
		}
		used[index] = true
		keys := []edgeKey{segment.a, segment.b}
		for key, ok := next(segment.b); ok; key, ok = next(key) {
			keys = append(keys, key)
		}
		closed := keys[0] == keys[len(keys)-1]
		if !closed {
			var backward []edgeKey
			for key, ok := next(segment.a); ok; key, ok = next(key) {
				backward = append(backward, key)
			}
			for left, right := 0, len(backward)-1; left < right; left, right = left+1, right-1 {
				backward[left], backward[right] = backward[right], backward[left]
			}
			keys = append(backward, keys...)
		}

		line := ContourLine{
			Elevation: level,
			Vertices:  make([][3]float64, 0, len(keys)),
			Closed:    closed,
		}
		for _, key := range keys {
			x, y := edgeCrossing(r, level, key)
			line.Vertices = append(line.Vertices, [3]float64{x, y, level})
		}
		lines = append(lines, line)
	}
	return lines
}

// cellSegments appends the segments of the cell whose top left corner is the
// pixel centre (i, j) to segments.
func cellSegments(r *Raster, level float64, i, j int, segments []contourSegment) []contourSegment {
	tl, tr := r.At(i, j), r.At(i+1, j)
	bl, br := r.At(i, j+1), r.At(i+1, j+1)
	if !r.valid(tl) || !r.valid(tr) || !r.valid(bl) || !r.valid(br) {
		return segments
	}
	tlAbove, trAbove := tl >= level, tr >= level
	blAbove, brAbove := bl >= level, br >= level

	top := edgeKey{i: i, j: j}
	bottom := edgeKey{i: i, j: j + 1}
	left := edgeKey{vertical: true, i: i, j: j}
	right := edgeKey{vertical: true, i: i + 1, j: j}

	var crossed []edgeKey
	if tlAbove != trAbove {
		crossed = append(crossed, top)
	}
	if trAbove != brAbove {
		crossed = append(crossed, right)
	}
	if brAbove != blAbove {
		crossed = append(crossed, bottom)
	}
	if blAbove != tlAbove {
		crossed = append(crossed, left)
	}

	switch len(crossed) {
	case 2:
		return append(segments, contourSegment{a: crossed[0], b: crossed[1]})
	case 4:
		// Saddle. The mean of the corners decides which diagonal is connected.
		centerAbove := (tl+tr+bl+br)/4 >= level
		if isolateTLBR := tlAbove != centerAbove; isolateTLBR {
			return append(segments,
				contourSegment{a: left, b: top},
				contourSegment{a: right, b: bottom},
			)
		}
		return append(segments,
			contourSegment{a: top, b: right},
			contourSegment{a: bottom, b: left},
		)
	default:
		return segments
	}
}

// edgeCrossing returns the projected coordinates where level crosses the edge
// identified by key.
func edgeCrossing(r *Raster, level float64, key edgeKey) (float64, float64) {
	i0, j0 := key.i, key.j
	i1, j1 := i0+1, j0
	if key.vertical {
		i1, j1 = i0, j0+1
	}
	v0, v1 := r.At(i0, j0), r.At(i1, j1)
	t := 0.5
	if v1 != v0 {
		t = (level - v0) / (v1 - v0)
	}
	col := float64(i0) + t*float64(i1-i0) + 0.5
	row := float64(j0) + t*float64(j1-j0) + 0.5
	return r.GeoTransform.Apply(col, row)
}
