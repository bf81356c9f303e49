package terrain

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// clipEpsilon absorbs floating point error when snapping boundary extents to
// pixel edges.
const clipEpsilon = 1e-6

// Clip returns the window of src covering the bounding box of mp, with pixels
// whose centres fall outside mp set to no-data. mp must be in src's CRS. If
// src has no no-data value then DefaultNoData is used.
func Clip(ctx context.Context, src *GeoTIFF, mp orb.MultiPolygon) (*Raster, error) {
	if len(mp) == 0 {
		return nil, fmt.Errorf("%w: empty boundary", ErrClip)
	}
	inv, ok := src.GeoTransform().Invert()
	if !ok {
		return nil, fmt.Errorf("%w: singular geotransform", ErrClip)
	}

	bound := mp.Bound()
	minCol, minRow := math.Inf(1), math.Inf(1)
	maxCol, maxRow := math.Inf(-1), math.Inf(-1)
	for _, corner := range []orb.Point{
		bound.Min,
		{bound.Max[0], bound.Min[1]},
		bound.Max,
		{bound.Min[0], bound.Max[1]},
	} {
		col, row := inv.Apply(corner[0], corner[1])
		minCol, maxCol = min(minCol, col), max(maxCol, col)
		minRow, maxRow = min(minRow, row), max(maxRow, row)
	}
	col0 := max(int(math.Floor(minCol+clipEpsilon)), 0)
	row0 := max(int(math.Floor(minRow+clipEpsilon)), 0)
	col1 := min(int(math.Ceil(maxCol-clipEpsilon)), src.Width())
	row1 := min(int(math.Ceil(maxRow-clipEpsilon)), src.Height())
	if col0 >= col1 || row0 >= row1 {
		return nil, fmt.Errorf("%w: boundary does not intersect raster", ErrClip)
	}

	clipped, err := src.Window(ctx, col0, row0, col1-col0, row1-row0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClip, err)
	}
	noData := clipped.NoData
	if math.IsNaN(noData) {
		noData = DefaultNoData
		clipped.NoData = noData
	}

	for row := range clipped.Height {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := range clipped.Width {
			x, y := clipped.GeoTransform.Apply(float64(col)+0.5, float64(row)+0.5)
			if math.IsNaN(clipped.At(col, row)) || !planar.MultiPolygonContains(mp, orb.Point{x, y}) {
				clipped.Set(col, row, noData)
			}
		}
	}
	return clipped, nil
}
