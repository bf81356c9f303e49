package terrain

import "math"

// DefaultNoData is the no-data value used for derived rasters when the source
// raster does not define one.
const DefaultNoData = -9999

// A Coord is a pixel coordinate.
type Coord struct {
	X int // Column.
	Y int // Row.
}

// A TileCoord is a block coordinate within a GeoTIFF.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A GeoTransform maps pixel coordinates to projected coordinates. It uses the
// GDAL coefficient order: origin X, pixel width, row rotation, origin Y, column
// rotation, pixel height.
type GeoTransform [6]float64

// Apply returns the projected coordinate of the pixel coordinate (col, row).
func (gt GeoTransform) Apply(col, row float64) (float64, float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Invert returns the inverse of gt. It returns false if gt is singular.
func (gt GeoTransform) Invert() (GeoTransform, bool) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, false
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(gt[0]*gt[4] - gt[1]*gt[3]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, true
}

// Translate returns gt with its origin moved to the pixel coordinate (col,
// row).
func (gt GeoTransform) Translate(col, row int) GeoTransform {
	x, y := gt.Apply(float64(col), float64(row))
	return GeoTransform{x, gt[1], gt[2], y, gt[4], gt[5]}
}

// A Raster is an in-memory single band elevation raster.
type Raster struct {
	Width        int
	Height       int
	GeoTransform GeoTransform
	NoData       float64 // NaN if the raster has no no-data sentinel.
	EPSG         int
	Geographic   bool
	Samples      []float64 // Row-major.
}

// NewRaster returns a new Raster with every sample set to noData.
func NewRaster(width, height int, gt GeoTransform, noData float64, epsg int) *Raster {
	samples := make([]float64, width*height)
	for i := range samples {
		samples[i] = noData
	}
	return &Raster{
		Width:        width,
		Height:       height,
		GeoTransform: gt,
		NoData:       noData,
		EPSG:         epsg,
		Samples:      samples,
	}
}

// At returns the sample at (col, row).
func (r *Raster) At(col, row int) float64 {
	return r.Samples[row*r.Width+col]
}

// Set sets the sample at (col, row).
func (r *Raster) Set(col, row int, value float64) {
	r.Samples[row*r.Width+col] = value
}

// Valid returns whether the sample at (col, row) holds data.
func (r *Raster) Valid(col, row int) bool {
	return r.valid(r.At(col, row))
}

func (r *Raster) valid(value float64) bool {
	return !math.IsNaN(value) && value != r.NoData
}

// ValidCount returns the number of samples that hold data.
func (r *Raster) ValidCount() int {
	n := 0
	for _, value := range r.Samples {
		if r.valid(value) {
			n++
		}
	}
	return n
}

// CRS returns r's coordinate reference system as a PROJ string.
func (r *Raster) CRS() string {
	return EPSGCRS(r.EPSG)
}
