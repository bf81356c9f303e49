package terrain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/jonas-p/go-shp"
	"github.com/mholt/archiver/v3"
	"github.com/paulmach/orb"
)

const testKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Folder>
      <Placemark>
        <name>Site A</name>
        <description>north field</description>
        <Polygon>
          <outerBoundaryIs>
            <LinearRing>
              <coordinates>
                15.0,45.0,0 15.1,45.0,0 15.1,45.1,0 15.0,45.1,0 15.0,45.0,0
              </coordinates>
            </LinearRing>
          </outerBoundaryIs>
          <innerBoundaryIs>
            <LinearRing>
              <coordinates>15.02,45.02 15.03,45.02 15.03,45.03 15.02,45.02</coordinates>
            </LinearRing>
          </innerBoundaryIs>
        </Polygon>
      </Placemark>
      <Placemark>
        <name>Marker</name>
        <Point><coordinates>15.0,45.0</coordinates></Point>
      </Placemark>
    </Folder>
    <Placemark>
      <name>Site B</name>
      <MultiGeometry>
        <Polygon>
          <outerBoundaryIs><LinearRing><coordinates>16,46 16.1,46 16.1,46.1 16,46</coordinates></LinearRing></outerBoundaryIs>
        </Polygon>
        <Polygon>
          <outerBoundaryIs><LinearRing><coordinates>17,47 17.1,47 17.1,47.1 17,47</coordinates></LinearRing></outerBoundaryIs>
        </Polygon>
      </MultiGeometry>
    </Placemark>
  </Document>
</kml>
`

func TestReadKML(t *testing.T) {
	boundary, err := ReadKML(strings.NewReader(testKML))
	assert.NoError(t, err)
	assert.Equal(t, CRSWGS84, boundary.CRS)
	assert.Equal(t, 2, len(boundary.Placemarks))

	siteA := boundary.Placemarks[0]
	assert.Equal(t, "Site A", siteA.Name)
	assert.Equal(t, "north field", siteA.Description)
	assert.Equal(t, 1, len(siteA.Polygons))
	assert.Equal(t, 2, len(siteA.Polygons[0]))
	assert.Equal(t, orb.Point{15.1, 45.0}, siteA.Polygons[0][0][1])

	siteB := boundary.Placemarks[1]
	assert.Equal(t, "Site B", siteB.Name)
	assert.Equal(t, 2, len(siteB.Polygons))
	assert.Equal(t, 3, len(boundary.MultiPolygon()))
}

func TestReadKMLErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		kml  string
	}{
		{
			name: "no_polygons",
			kml:  `<kml><Placemark><Point><coordinates>1,2</coordinates></Point></Placemark></kml>`,
		},
		{
			name: "bad_coordinate",
			kml:  `<kml><Placemark><Polygon><outerBoundaryIs><LinearRing><coordinates>1,x 2,3 3,4</coordinates></LinearRing></outerBoundaryIs></Polygon></Placemark></kml>`,
		},
		{
			name: "short_ring",
			kml:  `<kml><Placemark><Polygon><outerBoundaryIs><LinearRing><coordinates>1,2 2,3</coordinates></LinearRing></outerBoundaryIs></Polygon></Placemark></kml>`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadKML(strings.NewReader(tc.kml))
			assert.Error(t, err)
		})
	}
}

func TestParsePlacemarks(t *testing.T) {
	for _, tc := range []struct {
		name          string
		geoJSON       string
		expectedNames []string
		expectedCount int
	}{
		{
			name:          "feature_collection",
			geoJSON:       `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`,
			expectedNames: []string{"a"},
			expectedCount: 1,
		},
		{
			name:          "feature",
			geoJSON:       `{"type":"Feature","properties":{"name":"b"},"geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]],[[[2,2],[3,2],[3,3],[2,2]]]]}}`,
			expectedNames: []string{"b"},
			expectedCount: 2,
		},
		{
			name:          "geometry",
			geoJSON:       `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`,
			expectedNames: []string{""},
			expectedCount: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			placemarks, err := ParsePlacemarks([]byte(tc.geoJSON))
			assert.NoError(t, err)
			var names []string
			count := 0
			for _, placemark := range placemarks {
				names = append(names, placemark.Name)
				count += len(placemark.Polygons)
			}
			assert.Equal(t, tc.expectedNames, names)
			assert.Equal(t, tc.expectedCount, count)
		})
	}

	_, err := ParsePlacemarks([]byte(`{"type":"Point","coordinates":[0,0]}`))
	assert.IsError(t, err, errNoPolygons)
}

func TestBaseName(t *testing.T) {
	for _, tc := range []struct {
		filename string
		expected string
	}{
		{filename: "site_boundary.kml", expected: "site"},
		{filename: "/tmp/uploads/north_field_v2.geojson", expected: "north"},
		{filename: "field.kml", expected: "field"},
		{filename: "field", expected: "field"},
	} {
		t.Run(tc.filename, func(t *testing.T) {
			assert.Equal(t, tc.expected, BaseName(tc.filename))
		})
	}
}

func TestBoundaryWithPlacemarks(t *testing.T) {
	boundary := &Boundary{
		Name: "site",
		CRS:  CRSWGS84,
		Placemarks: []Placemark{
			{Name: "a", Polygons: orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}},
		},
	}
	extended := boundary.WithPlacemarks(Placemark{Name: "drawn", Polygons: orb.MultiPolygon{{{{2, 2}, {3, 2}, {3, 3}, {2, 2}}}}})
	assert.Equal(t, 2, len(extended.Placemarks))
	assert.Equal(t, 1, len(boundary.Placemarks))
	assert.Equal(t, 2, len(extended.MultiPolygon()))
}

func TestLoadBoundary(t *testing.T) {
	dir := t.TempDir()

	kmlPath := filepath.Join(dir, "site_boundary.kml")
	assert.NoError(t, os.WriteFile(kmlPath, []byte(testKML), 0o666))
	boundary, err := LoadBoundary(kmlPath, dir)
	assert.NoError(t, err)
	assert.Equal(t, "site_boundary", boundary.Name)
	assert.Equal(t, 2, len(boundary.Placemarks))

	geoJSONPath := filepath.Join(dir, "drawn.json")
	assert.NoError(t, os.WriteFile(geoJSONPath, []byte(`  {"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`), 0o666))
	boundary, err = LoadBoundary(geoJSONPath, dir)
	assert.NoError(t, err)
	assert.Equal(t, CRSWGS84, boundary.CRS)
	assert.Equal(t, 1, len(boundary.MultiPolygon()))

	unknownPath := filepath.Join(dir, "unknown.bin")
	assert.NoError(t, os.WriteFile(unknownPath, []byte("\x00\x01\x02"), 0o666))
	_, err = LoadBoundary(unknownPath, dir)
	assert.Error(t, err)
}

func TestLoadBoundaryShapefileZip(t *testing.T) {
	dir := t.TempDir()
	shpDir := filepath.Join(dir, "shp")
	assert.NoError(t, os.Mkdir(shpDir, 0o777))

	shpPath := filepath.Join(shpDir, "site.shp")
	writer, err := shp.Create(shpPath, shp.POLYGON)
	assert.NoError(t, err)
	assert.NoError(t, writer.SetFields([]shp.Field{shp.StringField("NAME", 32)}))
	polygon := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 2, Y: 2}, {X: 2, Y: 8}, {X: 8, Y: 8}, {X: 8, Y: 2}, {X: 2, Y: 2}},
	}))
	row := writer.Write(&polygon)
	assert.NoError(t, writer.WriteAttribute(int(row), 0, "field one"))
	writer.Close()
	assert.NoError(t, os.WriteFile(filepath.Join(shpDir, "site.prj"), []byte(`PROJCS["WGS 84 / UTM zone 33N"]`), 0o666))

	zipPath := filepath.Join(dir, "site_boundary.zip")
	assert.NoError(t, archiver.Archive([]string{
		shpPath,
		filepath.Join(shpDir, "site.shx"),
		filepath.Join(shpDir, "site.dbf"),
		filepath.Join(shpDir, "site.prj"),
	}, zipPath))

	boundary, err := LoadBoundary(zipPath, dir)
	assert.NoError(t, err)
	assert.Equal(t, `PROJCS["WGS 84 / UTM zone 33N"]`, boundary.CRS)
	assert.Equal(t, 1, len(boundary.Placemarks))
	assert.Equal(t, "field one", boundary.Placemarks[0].Name)
	assert.Equal(t, orb.Bound{Min: orb.Point{2, 2}, Max: orb.Point{8, 8}}, boundary.MultiPolygon().Bound())
}
