package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-terrain/drawing"
)

func writeTestDrawing(t *testing.T, path, layerName string, entities ...drawing.Entity) {
	t.Helper()
	d := drawing.New()
	d.AddLayer(drawing.Layer{Name: layerName, Color: drawing.ColorRed})
	d.Add(entities...)
	var buf bytes.Buffer
	assert.NoError(t, d.Encode(&buf))
	assert.NoError(t, os.WriteFile(path, buf.Bytes(), 0o666))
}

func TestMergeCmd(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "points.dxf")
	sourcePath := filepath.Join(dir, "boundary.dxf")
	outPath := filepath.Join(dir, "merged.dxf")
	writeTestDrawing(t, targetPath, "3D Points",
		&drawing.Point{Properties: drawing.Properties{LayerName: "3D Points", Color: drawing.ColorByLayer}, Location: drawing.Vec3{X: 1, Y: 2, Z: 3}},
	)
	writeTestDrawing(t, sourcePath, "Boundaries",
		&drawing.Polyline{
			Properties: drawing.Properties{LayerName: "Boundaries", Color: drawing.ColorByLayer},
			Vertices:   []drawing.Vec3{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}},
			Closed:     true,
		},
	)

	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{
		"--config", filepath.Join(dir, "missing.toml"),
		"merge", "--target", targetPath, "--source", sourcePath, "--out", outPath,
	})
	// An explicit config file must exist.
	assert.Error(t, rootCmd.ExecuteContext(t.Context()))

	rootCmd = newRootCmd()
	rootCmd.SetArgs([]string{
		"--log-level", "error",
		"merge", "--target", targetPath, "--source", sourcePath, "--out", outPath,
	})
	assert.NoError(t, rootCmd.ExecuteContext(t.Context()))

	data, err := os.ReadFile(outPath)
	assert.NoError(t, err)
	merged, err := drawing.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
	assert.Equal(t, 1, merged.EntitiesOnLayer("3D Points"))
	assert.Equal(t, 1, merged.EntitiesOnLayer("Boundaries"))
}

func TestRunCmdUnknownOutput(t *testing.T) {
	rootCmd := newRootCmd()
	rootCmd.SetArgs([]string{
		"--log-level", "error",
		"run", "--dem", "dem.tif", "--boundary", "site.kml", "--output", "clipped_dem,tin",
	})
	assert.Error(t, rootCmd.ExecuteContext(t.Context()))
}
