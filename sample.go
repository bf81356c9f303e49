package terrain

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// MetersToFeet converts meters to international feet.
const MetersToFeet = 3.28084

// A Point3 is a sampled point.
type Point3 struct {
	X, Y, Z float64
}

// SamplePoints returns one point per valid pixel of r in row-major order. The
// X and Y coordinates are of the pixel's top left corner.
func SamplePoints(r *Raster) ([]Point3, error) {
	if r.Width <= 0 || r.Height <= 0 || len(r.Samples) != r.Width*r.Height {
		return nil, fmt.Errorf("%w: %dx%d raster with %d samples", ErrSampling, r.Width, r.Height, len(r.Samples))
	}
	points := make([]Point3, 0, r.ValidCount())
	gt := r.GeoTransform
	for row := range r.Height {
		for col := range r.Width {
			z := r.At(col, row)
			if !r.valid(z) {
				continue
			}
			x := gt[0] + float64(col)*gt[1] + float64(row)*gt[2]
			y := gt[3] + float64(col)*gt[4] + float64(row)*gt[5]
			points = append(points, Point3{X: x, Y: y, Z: z})
		}
	}
	return points, nil
}

// ScaleZ returns a copy of points with Z multiplied by factor.
func ScaleZ(points []Point3, factor float64) []Point3 {
	scaled := make([]Point3, len(points))
	for i, point := range points {
		scaled[i] = Point3{X: point.X, Y: point.Y, Z: point.Z * factor}
	}
	return scaled
}

// WritePointsCSV writes points as CSV with the header X,Y,Z and three decimal
// places.
func WritePointsCSV(w io.Writer, points []Point3) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"X", "Y", "Z"}); err != nil {
		return err
	}
	for _, point := range points {
		if err := csvWriter.Write([]string{
			strconv.FormatFloat(point.X, 'f', 3, 64),
			strconv.FormatFloat(point.Y, 'f', 3, 64),
			strconv.FormatFloat(point.Z, 'f', 3, 64),
		}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// ReadPointsCSV reads points written by WritePointsCSV.
func ReadPointsCSV(r io.Reader) ([]Point3, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = 3
	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSampling, err)
	}
	if header[0] != "X" || header[1] != "Y" || header[2] != "Z" {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrSampling, header)
	}
	var points []Point3
	for {
		record, err := csvReader.Read()
		switch {
		case err == io.EOF:
			return points, nil
		case err != nil:
			return nil, fmt.Errorf("%w: %w", ErrSampling, err)
		}
		var values [3]float64
		for i, field := range record {
			if values[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSampling, err)
			}
		}
		points = append(points, Point3{X: values[0], Y: values[1], Z: values[2]})
	}
}
