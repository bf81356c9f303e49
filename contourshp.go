package terrain

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
)

// Contour shapefile attribute fields.
const (
	ContourFieldID        = "ID"
	ContourFieldElevation = "elev"
)

// WriteContourShapefile writes set as a PolyLineZ shapefile at path, which
// must end in .shp. The .shx and .dbf sidecars are written beside it, and a
// .prj if ESRIWKT supports set's CRS.
func WriteContourShapefile(path string, set *ContourSet) error {
	if err := writeContourShapes(path, set); err != nil {
		return err
	}
	if wkt, ok := ESRIWKT(set.EPSG); ok {
		return os.WriteFile(contourShapefileStem(path)+".prj", []byte(wkt), 0o666)
	}
	return nil
}

func writeContourShapes(path string, set *ContourSet) error {
	writer, err := shp.Create(path, shp.POLYLINEZ)
	if err != nil {
		return err
	}
	defer writer.Close()

	if err := writer.SetFields([]shp.Field{
		shp.NumberField(ContourFieldID, 10),
		shp.FloatField(ContourFieldElevation, 12, 3),
	}); err != nil {
		return err
	}

	for _, line := range set.Lines {
		points := make([]shp.Point, 0, len(line.Vertices))
		zs := make([]float64, 0, len(line.Vertices))
		for _, vertex := range line.Vertices {
			points = append(points, shp.Point{X: vertex[0], Y: vertex[1]})
			zs = append(zs, vertex[2])
		}
		row := writer.Write(&shp.PolyLineZ{
			Box:       shp.BBoxFromPoints(points),
			NumParts:  1,
			NumPoints: int32(len(points)),
			Parts:     []int32{0},
			Points:    points,
			ZRange:    [2]float64{line.Elevation, line.Elevation},
			ZArray:    zs,
			MArray:    make([]float64, len(points)),
		})
		if err := writer.WriteAttribute(int(row), 0, line.ID); err != nil {
			return err
		}
		if err := writer.WriteAttribute(int(row), 1, line.Elevation); err != nil {
			return err
		}
	}
	return nil
}

// ContourShapefilePaths returns the paths of the files that may make up the
// shapefile at path. The .prj is last and may be absent.
func ContourShapefilePaths(path string) []string {
	stem := contourShapefileStem(path)
	return []string{stem + ".shp", stem + ".shx", stem + ".dbf", stem + ".prj"}
}

func contourShapefileStem(path string) string {
	return strings.TrimSuffix(path, ".shp")
}

// ReadContourShapefile reads a contour shapefile written by
// WriteContourShapefile.
func ReadContourShapefile(path string) (*ContourSet, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	defer reader.Close()

	idField, elevationField := -1, -1
	for i, field := range reader.Fields() {
		switch strings.TrimRight(field.String(), "\x00") {
		case ContourFieldID:
			idField = i
		case ContourFieldElevation:
			elevationField = i
		}
	}
	if idField < 0 || elevationField < 0 {
		return nil, fmt.Errorf("%w: %s: missing contour fields", ErrConversion, path)
	}

	set := &ContourSet{}
	for reader.Next() {
		n, shape := reader.Shape()
		polyLineZ, ok := shape.(*shp.PolyLineZ)
		if !ok {
			return nil, fmt.Errorf("%w: %s: shape %d: unexpected type %T", ErrConversion, path, n, shape)
		}
		id, err := strconv.Atoi(strings.TrimSpace(reader.ReadAttribute(n, idField)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: shape %d: %w", ErrConversion, path, n, err)
		}
		elevation, err := strconv.ParseFloat(strings.TrimSpace(reader.ReadAttribute(n, elevationField)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: shape %d: %w", ErrConversion, path, n, err)
		}
		line := ContourLine{
			ID:        id,
			Elevation: elevation,
			Vertices:  make([][3]float64, 0, len(polyLineZ.Points)),
		}
		for i, point := range polyLineZ.Points {
			z := elevation
			if i < len(polyLineZ.ZArray) {
				z = polyLineZ.ZArray[i]
			}
			line.Vertices = append(line.Vertices, [3]float64{point.X, point.Y, z})
		}
		if n := len(line.Vertices); n > 2 && line.Vertices[0] == line.Vertices[n-1] {
			line.Closed = true
		}
		set.Lines = append(set.Lines, line)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return set, nil
}
