package terrain

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rpaloschi/dxf-go/document"
	"github.com/rpaloschi/dxf-go/entities"
)

var errNoPolygons = errors.New("no polygons")

// A Placemark is a named polygon feature of a boundary.
type Placemark struct {
	Name        string
	Description string
	Polygons    orb.MultiPolygon
}

// A Boundary is an area of interest. An empty CRS means that the boundary is
// already in the raster's CRS.
type Boundary struct {
	Name       string
	CRS        string
	Placemarks []Placemark
}

// MultiPolygon returns all of b's polygons.
func (b *Boundary) MultiPolygon() orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, placemark := range b.Placemarks {
		mp = append(mp, placemark.Polygons...)
	}
	return mp
}

// WithPlacemarks returns a copy of b with extra placemarks appended. b is not
// modified.
func (b *Boundary) WithPlacemarks(extra ...Placemark) *Boundary {
	placemarks := make([]Placemark, 0, len(b.Placemarks)+len(extra))
	placemarks = append(placemarks, b.Placemarks...)
	placemarks = append(placemarks, extra...)
	return &Boundary{
		Name:       b.Name,
		CRS:        b.CRS,
		Placemarks: placemarks,
	}
}

// Reproject returns b transformed into dst.
func (b *Boundary) Reproject(r *Reprojector, dst string) (*Boundary, error) {
	result := &Boundary{
		Name:       b.Name,
		CRS:        dst,
		Placemarks: make([]Placemark, 0, len(b.Placemarks)),
	}
	for _, placemark := range b.Placemarks {
		polygons, err := r.TransformMultiPolygon(b.CRS, dst, placemark.Polygons)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", placemark.Name, err)
		}
		result.Placemarks = append(result.Placemarks, Placemark{
			Name:        placemark.Name,
			Description: placemark.Description,
			Polygons:    polygons,
		})
	}
	return result, nil
}

// BaseName returns the prefix of archive entry names derived from filename:
// the first underscore-separated word of its name without extension.
func BaseName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if word, _, ok := strings.Cut(base, "_"); ok {
		return word
	}
	return base
}

// LoadBoundary reads the boundary at path. The format is detected from the
// content: KML, GeoJSON, a zipped shapefile, or DXF. Zipped shapefiles are
// extracted into scratchDir.
func LoadBoundary(path, scratchDir string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var boundary *Boundary
	switch trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n"); {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		boundary, err = ReadShapefileZip(path, scratchDir)
	case bytes.HasPrefix(trimmed, []byte("<")):
		boundary, err = ReadKML(bytes.NewReader(trimmed))
	case bytes.HasPrefix(trimmed, []byte("{")):
		boundary, err = ReadGeoJSON(trimmed)
	case bytes.Contains(trimmed[:min(len(trimmed), 256)], []byte("SECTION")):
		boundary, err = ReadDXFBoundary(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%s: %w: unknown boundary format", path, errParse)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if boundary.Name == "" {
		boundary.Name = name
	}
	return boundary, nil
}

type kmlPlacemark struct {
	Name          string            `xml:"name"`
	Description   string            `xml:"description"`
	Polygon       *kmlPolygon       `xml:"Polygon"`
	MultiGeometry *kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlMultiGeometry struct {
	Polygons      []kmlPolygon       `xml:"Polygon"`
	MultiGeometry []kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlPolygon struct {
	OuterBoundaryIs kmlLinearRing   `xml:"outerBoundaryIs>LinearRing"`
	InnerBoundaryIs []kmlLinearRing `xml:"innerBoundaryIs>LinearRing"`
}

type kmlLinearRing struct {
	Coordinates string `xml:"coordinates"`
}

// ReadKML reads the polygon placemarks from a KML document. Placemarks may be
// nested in any number of Documents and Folders.
func ReadKML(r io.Reader) (*Boundary, error) {
	boundary := &Boundary{
		CRS: CRSWGS84,
	}
	decoder := xml.NewDecoder(r)
	for {
		token, err := decoder.Token()
		switch {
		case errors.Is(err, io.EOF):
			if len(boundary.MultiPolygon()) == 0 {
				return nil, errNoPolygons
			}
			return boundary, nil
		case err != nil:
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		startElement, ok := token.(xml.StartElement)
		if !ok || startElement.Name.Local != "Placemark" {
			continue
		}
		var kp kmlPlacemark
		if err := decoder.DecodeElement(&kp, &startElement); err != nil {
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		placemark := Placemark{
			Name:        strings.TrimSpace(kp.Name),
			Description: strings.TrimSpace(kp.Description),
		}
		var kmlPolygons []kmlPolygon
		if kp.Polygon != nil {
			kmlPolygons = append(kmlPolygons, *kp.Polygon)
		}
		if kp.MultiGeometry != nil {
			kmlPolygons = append(kmlPolygons, kp.MultiGeometry.polygons()...)
		}
		for _, kmlPolygon := range kmlPolygons {
			polygon, err := kmlPolygon.polygon()
			if err != nil {
				return nil, err
			}
			placemark.Polygons = append(placemark.Polygons, polygon)
		}
		if len(placemark.Polygons) > 0 {
			boundary.Placemarks = append(boundary.Placemarks, placemark)
		}
	}
}

func (mg *kmlMultiGeometry) polygons() []kmlPolygon {
	polygons := mg.Polygons
	for i := range mg.MultiGeometry {
		polygons = append(polygons, mg.MultiGeometry[i].polygons()...)
	}
	return polygons
}

func (p *kmlPolygon) polygon() (orb.Polygon, error) {
	outer, err := parseKMLCoordinates(p.OuterBoundaryIs.Coordinates)
	if err != nil {
		return nil, err
	}
	polygon := orb.Polygon{outer}
	for _, inner := range p.InnerBoundaryIs {
		ring, err := parseKMLCoordinates(inner.Coordinates)
		if err != nil {
			return nil, err
		}
		polygon = append(polygon, ring)
	}
	return polygon, nil
}

// parseKMLCoordinates parses whitespace separated lon,lat[,alt] tuples.
func parseKMLCoordinates(s string) (orb.Ring, error) {
	var ring orb.Ring
	for _, tuple := range strings.Fields(s) {
		values := strings.Split(tuple, ",")
		if len(values) < 2 {
			return nil, fmt.Errorf("%w: coordinate %q", errParse, tuple)
		}
		lon, err := strconv.ParseFloat(values[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: coordinate %q", errParse, tuple)
		}
		lat, err := strconv.ParseFloat(values[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: coordinate %q", errParse, tuple)
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("%w: ring has %d points", errParse, len(ring))
	}
	return ring, nil
}

// ReadGeoJSON reads the polygons from a GeoJSON FeatureCollection, Feature,
// or Geometry.
func ReadGeoJSON(data []byte) (*Boundary, error) {
	placemarks, err := ParsePlacemarks(data)
	if err != nil {
		return nil, err
	}
	return &Boundary{
		CRS:        CRSWGS84,
		Placemarks: placemarks,
	}, nil
}

// ParsePlacemarks parses the polygons in a GeoJSON object.
func ParsePlacemarks(data []byte) ([]Placemark, error) {
	var object struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("%w: %w", errParse, err)
	}

	var features []*geojson.Feature
	switch object.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		features = fc.Features
	case "Feature":
		feature, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		features = []*geojson.Feature{feature}
	default:
		geometry, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		features = []*geojson.Feature{geojson.NewFeature(geometry.Geometry())}
	}

	var placemarks []Placemark
	for _, feature := range features {
		polygons := geometryPolygons(feature.Geometry)
		if len(polygons) == 0 {
			continue
		}
		placemarks = append(placemarks, Placemark{
			Name:        feature.Properties.MustString("name", ""),
			Description: feature.Properties.MustString("description", ""),
			Polygons:    polygons,
		})
	}
	if len(placemarks) == 0 {
		return nil, errNoPolygons
	}
	return placemarks, nil
}

func geometryPolygons(geometry orb.Geometry) orb.MultiPolygon {
	switch g := geometry.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}
	case orb.MultiPolygon:
		return g
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, child := range g {
			mp = append(mp, geometryPolygons(child)...)
		}
		return mp
	default:
		return nil
	}
}

// ReadShapefileZip extracts the zipped shapefile at path into scratchDir and
// reads its polygons.
func ReadShapefileZip(path, scratchDir string) (*Boundary, error) {
	dir, err := os.MkdirTemp(scratchDir, "shapefile-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := archiver.NewZip().Unarchive(path, dir); err != nil {
		return nil, err
	}
	var shpPath string
	if err := filepath.WalkDir(dir, func(path string, dirEntry os.DirEntry, err error) error {
		if err == nil && shpPath == "" && strings.EqualFold(filepath.Ext(path), ".shp") {
			shpPath = path
		}
		return err
	}); err != nil {
		return nil, err
	}
	if shpPath == "" {
		return nil, fmt.Errorf("%w: no .shp in archive", errParse)
	}
	return ReadShapefile(shpPath)
}

// ReadShapefile reads the polygons of the shapefile at path. The CRS is read
// from the .prj sidecar if present.
func ReadShapefile(path string) (*Boundary, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	boundary := &Boundary{
		CRS: CRSWGS84,
	}
	if prj, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"); err == nil {
		if wkt := strings.TrimSpace(string(prj)); wkt != "" {
			boundary.CRS = wkt
		}
	}

	nameField, descriptionField := -1, -1
	for i, field := range reader.Fields() {
		switch name := strings.ToLower(strings.TrimRight(field.String(), "\x00")); name {
		case "name":
			nameField = i
		case "description", "descr":
			descriptionField = i
		}
	}

	for reader.Next() {
		n, shape := reader.Shape()
		var polygon orb.Polygon
		switch s := shape.(type) {
		case *shp.Polygon:
			polygon = shpPolygon(s.Points, s.Parts)
		case *shp.PolygonZ:
			polygon = shpPolygon(s.Points, s.Parts)
		case *shp.PolygonM:
			polygon = shpPolygon(s.Points, s.Parts)
		default:
			continue
		}
		if len(polygon) == 0 {
			continue
		}
		placemark := Placemark{
			Polygons: orb.MultiPolygon{polygon},
		}
		if nameField >= 0 {
			placemark.Name = strings.TrimSpace(reader.ReadAttribute(n, nameField))
		}
		if descriptionField >= 0 {
			placemark.Description = strings.TrimSpace(reader.ReadAttribute(n, descriptionField))
		}
		boundary.Placemarks = append(boundary.Placemarks, placemark)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	if len(boundary.Placemarks) == 0 {
		return nil, errNoPolygons
	}
	return boundary, nil
}

// shpPolygon returns the rings of a shapefile polygon as a single polygon.
func shpPolygon(points []shp.Point, parts []int32) orb.Polygon {
	var polygon orb.Polygon
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 3 {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, point := range points[start:end] {
			ring = append(ring, orb.Point{point.X, point.Y})
		}
		polygon = append(polygon, ring)
	}
	return polygon
}

// ReadDXFBoundary reads the polylines of a DXF drawing as boundary rings.
// CAD boundaries are drawn in projected coordinates so the boundary has no
// CRS of its own.
func ReadDXFBoundary(r io.Reader) (*Boundary, error) {
	doc, err := document.DxfDocumentFromStream(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errParse, err)
	}

	var dxfEntities []any
	for _, entity := range doc.Entities.Entities {
		dxfEntities = append(dxfEntities, entity)
	}
	for _, block := range doc.Blocks {
		for _, entity := range block.Entities {
			dxfEntities = append(dxfEntities, entity)
		}
	}

	boundary := &Boundary{}
	for _, entity := range dxfEntities {
		var ring orb.Ring
		var layerName string
		switch e := entity.(type) {
		case *entities.Polyline:
			for _, vertex := range e.Vertices {
				ring = append(ring, orb.Point{vertex.Location.X, vertex.Location.Y})
			}
			layerName = e.LayerName
		case *entities.LWPolyline:
			for _, point := range e.Points {
				ring = append(ring, orb.Point{point.Point.X, point.Point.Y})
			}
			layerName = e.LayerName
		default:
			continue
		}
		if len(ring) < 3 {
			continue
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		boundary.Placemarks = append(boundary.Placemarks, Placemark{
			Name:     layerName,
			Polygons: orb.MultiPolygon{{ring}},
		})
	}
	if len(boundary.Placemarks) == 0 {
		return nil, errNoPolygons
	}
	return boundary, nil
}
