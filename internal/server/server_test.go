package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/gin-gonic/gin"

	"github.com/twpayne/go-terrain"
	"github.com/twpayne/go-terrain/internal/ledger"
	"github.com/twpayne/go-terrain/pipeline"
)

// testBoundary is a 0.6 degree square in the middle of the test DEM.
const testBoundary = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"name": "site"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[15.2, 45.2], [15.8, 45.2], [15.8, 45.8], [15.2, 45.8], [15.2, 45.2]]]
      }
    }
  ]
}`

func newTestServer(t *testing.T) (*Server, string, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithScratchDir(t.TempDir()),
	)
	assert.NoError(t, err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, l.Close())
	})
	uploadDir := filepath.Join(t.TempDir(), "uploads")
	s, err := New(p, uploadDir,
		WithLogger(logger),
		WithLedger(l),
		WithFileWait(0),
	)
	assert.NoError(t, err)
	return s, uploadDir, l
}

// testDEM returns a 10x10 geographic DEM of constant elevation with 0.1 degree
// pixels and its origin at 15E 46N.
func testDEM(t *testing.T) []byte {
	t.Helper()
	r := terrain.NewRaster(10, 10, terrain.GeoTransform{15, 0.1, 0, 46, 0, -0.1}, terrain.DefaultNoData, 4326)
	r.Geographic = true
	for i := range r.Samples {
		r.Samples[i] = 250
	}
	var buf bytes.Buffer
	assert.NoError(t, terrain.WriteGeoTIFF(&buf, r))
	return buf.Bytes()
}

func uploadTestFile(t *testing.T, s *Server, filename string, data []byte) string {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	assert.NoError(t, err)
	_, err = fw.Write(data)
	assert.NoError(t, err)
	assert.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/mesh_contour/upload-file", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		FileID string `json:"file_id"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, strings.HasSuffix(response.FileID, filepath.Ext(filename)))
	return response.FileID
}

func postForm(s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestUpload(t *testing.T) {
	s, uploadDir, l := newTestServer(t)

	demFileID := uploadTestFile(t, s, "dem.tif", testDEM(t))
	kmlFileID := uploadTestFile(t, s, "site_a.geojson", []byte(testBoundary))

	w := postForm(s, "/mesh_contour/upload", url.Values{
		"dem_file_id":    {demFileID},
		"kml_file_id":    {kmlFileID},
		"kml_file_name":  {"site_a.geojson"},
		"output_options": {"clipped_dem", "pvsyst_csv", "points_dxf_meters"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=site_a.zip`, w.Header().Get("Content-Disposition"))

	data := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	assert.NoError(t, err)
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	assert.Equal(t, []string{
		"site_clipped_dem.tif",
		"site_pvsyst_input.csv",
		"boundary.dxf",
		"site_3D_points_merged.dxf",
	}, names)

	// Uploads are removed after processing.
	dirEntries, err := os.ReadDir(uploadDir)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(dirEntries))

	jobs, err := l.Recent(t.Context(), 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(jobs))
	assert.Equal(t, "site", jobs[0].BaseName)

	req := httptest.NewRequest(http.MethodGet, "/mesh_contour/jobs", nil)
	jobsRecorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(jobsRecorder, req)
	assert.Equal(t, http.StatusOK, jobsRecorder.Code)
	var jobsResponse []ledger.Job
	assert.NoError(t, json.Unmarshal(jobsRecorder.Body.Bytes(), &jobsResponse))
	assert.Equal(t, 1, len(jobsResponse))
	assert.Equal(t, jobs[0].ID, jobsResponse[0].ID)
}

func TestUploadErrors(t *testing.T) {
	s, _, _ := newTestServer(t)
	missingFileID := "0b7f5b2e-4d6c-4a7e-9a57-0f6f3c1d2e3f.tif"

	for _, tc := range []struct {
		name string
		form func() url.Values
	}{
		{
			name: "missing_ids",
			form: func() url.Values {
				return url.Values{}
			},
		},
		{
			name: "path_traversal",
			form: func() url.Values {
				return url.Values{
					"dem_file_id": {"../dem.tif"},
					"kml_file_id": {missingFileID},
				}
			},
		},
		{
			name: "missing_upload",
			form: func() url.Values {
				return url.Values{
					"dem_file_id": {missingFileID},
					"kml_file_id": {missingFileID},
				}
			},
		},
		{
			name: "unknown_output",
			form: func() url.Values {
				return url.Values{
					"dem_file_id":    {uploadTestFile(t, s, "dem.tif", testDEM(t))},
					"kml_file_id":    {uploadTestFile(t, s, "site.geojson", []byte(testBoundary))},
					"output_options": {"clipped_dem", "hillshade"},
				}
			},
		},
		{
			name: "invalid_polygons",
			form: func() url.Values {
				return url.Values{
					"dem_file_id": {uploadTestFile(t, s, "dem.tif", testDEM(t))},
					"kml_file_id": {uploadTestFile(t, s, "site.geojson", []byte(testBoundary))},
					"polygons":    {`{"type":`},
				}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := postForm(s, "/mesh_contour/upload", tc.form())
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUploadFileErrors(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := postForm(s, "/mesh_contour/upload-file", url.Values{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
