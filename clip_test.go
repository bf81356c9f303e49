package terrain

import (
	"context"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
)

func squareBoundary(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func TestClip(t *testing.T) {
	r := newTestRaster(10, 10, func(col, row int) float64 { return 100 })
	g, err := NewGeoTIFF(encodeTestRaster(t, r))
	assert.NoError(t, err)

	for _, tc := range []struct {
		name                 string
		boundary             orb.MultiPolygon
		expectedWidth        int
		expectedHeight       int
		expectedValidCount   int
		expectedGeoTransform GeoTransform
	}{
		{
			name:                 "square",
			boundary:             squareBoundary(2, 2, 8, 8),
			expectedWidth:        6,
			expectedHeight:       6,
			expectedValidCount:   36,
			expectedGeoTransform: GeoTransform{2, 1, 0, 8, 0, -1},
		},
		{
			name:                 "partial_overlap",
			boundary:             squareBoundary(-5, -5, 3, 3),
			expectedWidth:        3,
			expectedHeight:       3,
			expectedValidCount:   9,
			expectedGeoTransform: GeoTransform{0, 1, 0, 3, 0, -1},
		},
		{
			name: "triangle",
			boundary: orb.MultiPolygon{{{
				{0, 0}, {4.2, 0}, {0, 4.2}, {0, 0},
			}}},
			expectedWidth:        5,
			expectedHeight:       5,
			expectedValidCount:   10,
			expectedGeoTransform: GeoTransform{0, 1, 0, 5, 0, -1},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clipped, err := Clip(t.Context(), g, tc.boundary)
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedWidth, clipped.Width)
			assert.Equal(t, tc.expectedHeight, clipped.Height)
			assert.Equal(t, tc.expectedGeoTransform, clipped.GeoTransform)
			assert.Equal(t, tc.expectedValidCount, clipped.ValidCount())
			assert.Equal(t, 32633, clipped.EPSG)

			bound := tc.boundary.Bound()
			for row := range clipped.Height {
				for col := range clipped.Width {
					if !clipped.Valid(col, row) {
						continue
					}
					x, y := clipped.GeoTransform.Apply(float64(col)+0.5, float64(row)+0.5)
					assert.True(t, bound.Contains(orb.Point{x, y}))
				}
			}
		})
	}
}

func TestClipErrors(t *testing.T) {
	r := newTestRaster(10, 10, func(col, row int) float64 { return 100 })
	g, err := NewGeoTIFF(encodeTestRaster(t, r))
	assert.NoError(t, err)

	_, err = Clip(t.Context(), g, squareBoundary(20, 20, 30, 30))
	assert.IsError(t, err, ErrClip)

	_, err = Clip(t.Context(), g, nil)
	assert.IsError(t, err, ErrClip)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = Clip(ctx, g, squareBoundary(2, 2, 8, 8))
	assert.True(t, errors.Is(err, context.Canceled))
}
