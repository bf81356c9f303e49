package pipeline

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	"github.com/twpayne/go-terrain"
	"github.com/twpayne/go-terrain/drawing"
)

func newTestPipeline(t *testing.T, options ...Option) (*Pipeline, string) {
	t.Helper()
	scratchDir := t.TempDir()
	options = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithScratchDir(scratchDir),
	}, options...)
	p, err := New(options...)
	assert.NoError(t, err)
	return p, scratchDir
}

// writeTestDEM writes a 10x10 DEM with unit pixels and its origin at (0, 10).
func writeTestDEM(t *testing.T, value func(col, row int) float64) string {
	t.Helper()
	r := terrain.NewRaster(10, 10, terrain.GeoTransform{0, 1, 0, 10, 0, -1}, terrain.DefaultNoData, 32633)
	for row := range 10 {
		for col := range 10 {
			r.Set(col, row, value(col, row))
		}
	}
	path := filepath.Join(t.TempDir(), "dem.tif")
	file, err := os.Create(path)
	assert.NoError(t, err)
	assert.NoError(t, terrain.WriteGeoTIFF(file, r))
	assert.NoError(t, file.Close())
	return path
}

func squareBoundary(name string, x0, y0, x1, y1 float64) *terrain.Boundary {
	return &terrain.Boundary{
		Name: name,
		Placemarks: []terrain.Placemark{
			{
				Name: name,
				Polygons: orb.MultiPolygon{
					{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}},
				},
			},
		},
	}
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	assert.NoError(t, err)
	files := make(map[string][]byte)
	for _, file := range zr.File {
		rc, err := file.Open()
		assert.NoError(t, err)
		contents, err := io.ReadAll(rc)
		assert.NoError(t, err)
		assert.NoError(t, rc.Close())
		files[file.Name] = contents
	}
	return files
}

func assertStatus(t *testing.T, report *Report, stage Stage, expected Status) {
	t.Helper()
	stageReport, ok := report.Stage(stage)
	assert.True(t, ok)
	assert.Equal(t, expected, stageReport.Status)
}

func TestRunClipPointsMesh(t *testing.T) {
	p, scratchDir := newTestPipeline(t)
	demPath := writeTestDEM(t, func(int, int) float64 { return 100 })

	var buf bytes.Buffer
	report, err := p.Run(t.Context(), &Request{
		ID:           "test",
		DEMPath:      demPath,
		BoundaryName: "site_north.kml",
		Boundary:     squareBoundary("site", 2, 2, 8, 8),
		Outputs:      NewOutputSet(OutputClippedDEM, OutputPvsystCSV, OutputMeshDXF),
	}, &buf)
	assert.NoError(t, err)
	assert.Equal(t, "site", report.BaseName)
	assert.Equal(t, "site_north.zip", report.ArchiveName)
	assert.Equal(t, []string{
		"site_clipped_dem.tif",
		"site_pvsyst_input.csv",
		"boundary.dxf",
		"site_Generated_Mesh_merged.dxf",
	}, report.Entries)
	assert.Equal(t, 0, report.Failures())
	assertStatus(t, report, StageClip, StatusSucceeded)
	assertStatus(t, report, StageMesh, StatusSucceeded)
	assertStatus(t, report, StageMergeMesh, StatusSucceeded)
	assertStatus(t, report, StageContours, StatusSkipped)
	assertStatus(t, report, StagePointsDXF, StatusSkipped)
	assertStatus(t, report, StageMergePoints, StatusSkipped)

	files := readArchive(t, buf.Bytes())
	assert.Equal(t, len(report.Entries), len(files))

	clipped, err := terrain.NewGeoTIFF(files["site_clipped_dem.tif"])
	assert.NoError(t, err)
	r, err := clipped.Raster(t.Context())
	assert.NoError(t, err)
	assert.Equal(t, 36, r.ValidCount())

	points, err := terrain.ReadPointsCSV(bytes.NewReader(files["site_pvsyst_input.csv"]))
	assert.NoError(t, err)
	assert.Equal(t, 36, len(points))
	for _, point := range points {
		assert.Equal(t, 100.0, point.Z)
	}

	merged, err := drawing.Decode(bytes.NewReader(files["site_Generated_Mesh_merged.dxf"]))
	assert.NoError(t, err)
	faces := merged.EntitiesOnLayer(terrain.LayerMesh)
	assert.True(t, faces > 0 && faces <= 50)
	assert.Equal(t, 1, merged.EntitiesOnLayer(terrain.LayerBoundaries))
	assert.True(t, merged.Layer(terrain.LayerBoundaries) != nil)

	// The scratch directory is removed.
	dirEntries, err := os.ReadDir(scratchDir)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(dirEntries))
}

func TestRunContours(t *testing.T) {
	p, _ := newTestPipeline(t, WithConcurrency(1))
	demPath := writeTestDEM(t, func(col, _ int) float64 { return float64(col) })

	var buf bytes.Buffer
	report, err := p.Run(t.Context(), &Request{
		DEMPath:      demPath,
		BoundaryName: "hill.kml",
		Boundary:     squareBoundary("hill", 0, 0, 10, 10),
		Outputs:      NewOutputSet(OutputClippedDEM, OutputContoursShp, OutputContoursDXF),
	}, &buf)
	assert.NoError(t, err)
	assert.NotEqual(t, "", report.ID)
	assert.Equal(t, []string{
		"hill_clipped_dem.tif",
		"hill_shapefile.shp",
		"hill_shapefile.shx",
		"hill_shapefile.dbf",
		"hill_shapefile.prj",
		"boundary.dxf",
		"hill_contours_merged.dxf",
	}, report.Entries)

	files := readArchive(t, buf.Bytes())
	assert.True(t, bytes.HasPrefix(files["hill_shapefile.prj"], []byte(`PROJCS["WGS_1984_UTM_Zone_33N",`)))
	merged, err := drawing.Decode(bytes.NewReader(files["hill_contours_merged.dxf"]))
	assert.NoError(t, err)
	assert.Equal(t, 9, merged.EntitiesOnLayer(terrain.LayerContours))
	assert.Equal(t, 1, merged.EntitiesOnLayer(terrain.LayerBoundaries))
}

func TestRunUnrequestedPrerequisite(t *testing.T) {
	p, _ := newTestPipeline(t)
	demPath := writeTestDEM(t, func(int, int) float64 { return 100 })

	var buf bytes.Buffer
	report, err := p.Run(t.Context(), &Request{
		DEMPath:  demPath,
		Boundary: squareBoundary("site", 2, 2, 8, 8),
		Outputs:  NewOutputSet(OutputContoursShp, OutputMeshDXF),
	}, &buf)
	assert.NoError(t, err)
	assert.Equal(t, []string{"boundary.dxf"}, report.Entries)
	assert.Equal(t, 0, report.Failures())
	for _, stage := range []Stage{StageClip, StageContours, StageMesh, StageMergeMesh} {
		assertStatus(t, report, stage, StatusSkipped)
	}
	stageReport, _ := report.Stage(StageContours)
	assert.Equal(t, reasonUnavailable, stageReport.Reason)
}

func TestRunMissingDEM(t *testing.T) {
	p, _ := newTestPipeline(t)

	var buf bytes.Buffer
	report, err := p.Run(t.Context(), &Request{
		DEMPath:  filepath.Join(t.TempDir(), "missing.tif"),
		Boundary: squareBoundary("site", 2, 2, 8, 8),
		Outputs:  NewOutputSet(OutputClippedDEM, OutputPvsystCSV),
	}, &buf)
	assert.NoError(t, err)
	assertStatus(t, report, StageLoadDEM, StatusFailed)
	assertStatus(t, report, StageClip, StatusSkipped)
	assertStatus(t, report, StageBoundaryDXF, StatusSucceeded)
	assert.Equal(t, []string{"boundary.dxf"}, report.Entries)
	assert.Equal(t, 1, report.Failures())
}

func TestRunNothingReadable(t *testing.T) {
	p, scratchDir := newTestPipeline(t)

	var buf bytes.Buffer
	_, err := p.Run(t.Context(), &Request{
		DEMPath:      filepath.Join(t.TempDir(), "missing.tif"),
		BoundaryPath: filepath.Join(t.TempDir(), "missing.kml"),
		Outputs:      NewOutputSet(OutputClippedDEM),
	}, &buf)
	assert.True(t, errors.Is(err, ErrIO))
	assert.Equal(t, 0, buf.Len())

	dirEntries, err := os.ReadDir(scratchDir)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(dirEntries))
}

func TestRunExtraPlacemarks(t *testing.T) {
	p, _ := newTestPipeline(t)
	demPath := writeTestDEM(t, func(int, int) float64 { return 100 })

	boundaryPath := filepath.Join(t.TempDir(), "site_a.geojson")
	assert.NoError(t, os.WriteFile(boundaryPath, []byte(`{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`), 0o666))
	extra := squareBoundary("drawn", 6, 6, 8, 8).Placemarks

	// GeoJSON boundaries are in EPSG:4326, so drop the CRS to keep the
	// boundary in the DEM's CRS.
	boundary, err := terrain.LoadBoundary(boundaryPath, t.TempDir())
	assert.NoError(t, err)
	boundary.CRS = ""

	var buf bytes.Buffer
	report, err := p.Run(t.Context(), &Request{
		DEMPath:      demPath,
		BoundaryName: filepath.Base(boundaryPath),
		Boundary:     boundary,
		Extra:        extra,
		Outputs:      NewOutputSet(OutputClippedDEM, OutputPvsystCSV),
	}, &buf)
	assert.NoError(t, err)
	files := readArchive(t, buf.Bytes())
	points, err := terrain.ReadPointsCSV(bytes.NewReader(files["site_pvsyst_input.csv"]))
	assert.NoError(t, err)
	assert.Equal(t, 8, len(points))

	decoded, err := drawing.Decode(bytes.NewReader(files[boundaryDXFName]))
	assert.NoError(t, err)
	assert.Equal(t, 2, decoded.EntitiesOnLayer(terrain.LayerBoundaries))

	// The request's boundary is not modified.
	assert.Equal(t, 1, len(boundary.Placemarks))
}

func TestMergeStageFallback(t *testing.T) {
	p, _ := newTestPipeline(t)
	outDir := t.TempDir()
	j := &job{
		Pipeline: p,
		req:      &Request{},
		logger:   p.logger,
		outDir:   outDir,
		base:     "site",
		entries:  make(map[string]bool),
	}

	points := terrain.PointsDrawing([]terrain.Point3{{X: 1, Y: 2, Z: 3}})
	invalid := drawing.New()
	invalid.Layers = append(invalid.Layers, &drawing.Layer{Name: drawing.DefaultLayer})
	boundary := terrain.BoundaryDrawing(squareBoundary("site", 0, 0, 1, 1))

	for _, tc := range []struct {
		name     string
		stage    Stage
		product  result[*drawing.Drawing]
		boundary result[*drawing.Drawing]
		suffix   string
		expected string
	}{
		{
			name:     "boundary_failed",
			stage:    StageMergePoints,
			product:  result[*drawing.Drawing]{value: points, status: StatusSucceeded},
			boundary: result[*drawing.Drawing]{err: errors.New("failed"), status: StatusFailed},
			suffix:   suffixPoints,
			expected: "site_3D_points.dxf",
		},
		{
			name:     "merge_failed",
			stage:    StageMergeMesh,
			product:  result[*drawing.Drawing]{value: invalid, status: StatusSucceeded},
			boundary: result[*drawing.Drawing]{value: boundary, status: StatusSucceeded},
			suffix:   suffixMesh,
			expected: "site_Generated_Mesh.dxf",
		},
		{
			name:     "merged",
			stage:    StageMergeContours,
			product:  result[*drawing.Drawing]{value: points, status: StatusSucceeded},
			boundary: result[*drawing.Drawing]{value: boundary, status: StatusSucceeded},
			suffix:   suffixContours,
			expected: "site_contours_merged.dxf",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			j.mergeStage(t.Context(), tc.stage, tc.product, tc.boundary, tc.suffix)
			assert.True(t, j.entries[tc.expected])
			_, err := os.Stat(filepath.Join(outDir, tc.expected))
			assert.NoError(t, err)
		})
	}

	// The product drawing is not modified by merging.
	assert.Equal(t, 1, len(points.Entities))

	assert.Equal(t, "site_3D_points.dxf,site_contours_merged.dxf,site_Generated_Mesh.dxf", strings.Join(j.archiveEntries(), ","))
}
