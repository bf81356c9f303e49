package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twpayne/go-terrain"
	"github.com/twpayne/go-terrain/drawing"
)

// Archive entry names. Entries other than boundaryDXFName are prefixed with
// the base name.
const (
	suffixClippedDEM = "_clipped_dem.tif"
	suffixShapefile  = "_shapefile.shp"
	suffixPvsystCSV  = "_pvsyst_input.csv"
	boundaryDXFName  = "boundary.dxf"
	suffixPoints     = "_3D_points"
	suffixContours   = "_contours"
	suffixMesh       = "_Generated_Mesh"
	suffixMerged     = "_merged"
)

// A job is the state of a single invocation.
type job struct {
	*Pipeline
	req        *Request
	logger     *slog.Logger
	scratchDir string
	outDir     string
	base       string
	recorder   recorder

	mutex   sync.Mutex
	entries map[string]bool
}

func (j *job) run(ctx context.Context, w io.Writer) (*Report, error) {
	dem := runStage(ctx, j, StageLoadDEM, "", func(context.Context) (*terrain.GeoTIFF, error) {
		return terrain.OpenGeoTIFF(j.req.DEMPath, terrain.WithEPSG(j.rasterEPSG))
	})
	boundary := runStage(ctx, j, StageLoadBoundary, "", j.loadBoundary)
	if !dem.ok() && !boundary.ok() {
		return nil, fmt.Errorf("%w: %w", ErrIO, errors.Join(dem.err, boundary.err))
	}

	rasterBoundary := runStage(ctx, j, StageReproject, available(boundary.ok(), dem.ok() || boundary.ok() && boundary.value.CRS == ""), func(context.Context) (*terrain.Boundary, error) {
		if !dem.ok() {
			return boundary.value, nil
		}
		return boundary.value.Reproject(j.reprojector, dem.value.CRS())
	})

	clipped := runStage(ctx, j, StageClip, j.requires(OutputClippedDEM, dem.ok(), rasterBoundary.ok()), func(ctx context.Context) (*terrain.Raster, error) {
		return j.clip(ctx, dem.value, rasterBoundary.value)
	})

	var contourDrawing, pointsDrawing, meshDrawing, boundaryDrawing result[*drawing.Drawing]
	g, gctx := errgroup.WithContext(ctx)
	if j.concurrency > 0 {
		g.SetLimit(j.concurrency)
	}
	g.Go(func() error {
		contourDrawing = j.contourBranch(gctx, clipped)
		return nil
	})
	g.Go(func() error {
		pointsDrawing, meshDrawing = j.pointBranch(gctx, clipped)
		return nil
	})
	g.Go(func() error {
		boundaryDrawing = runStage(gctx, j, StageBoundaryDXF, available(rasterBoundary.ok()), func(context.Context) (*drawing.Drawing, error) {
			d := terrain.BoundaryDrawing(rasterBoundary.value)
			if err := d.Validate(); err != nil {
				return nil, err
			}
			return d, j.writeDrawing(boundaryDXFName, d)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	j.mergeStage(ctx, StageMergePoints, pointsDrawing, boundaryDrawing, suffixPoints)
	j.mergeStage(ctx, StageMergeContours, contourDrawing, boundaryDrawing, suffixContours)
	j.mergeStage(ctx, StageMergeMesh, meshDrawing, boundaryDrawing, suffixMesh)

	entries := j.archiveEntries()
	n, err := writeArchive(w, j.outDir, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	archiveBytes.Observe(float64(n))

	return &Report{
		ID:          j.req.ID,
		BaseName:    j.base,
		ArchiveName: j.req.ArchiveName(),
		Outputs:     j.req.Outputs,
		Stages:      j.recorder.sorted(),
		Entries:     entries,
	}, nil
}

func (j *job) loadBoundary(context.Context) (*terrain.Boundary, error) {
	boundary := j.req.Boundary
	if boundary == nil {
		var err error
		boundary, err = terrain.LoadBoundary(j.req.BoundaryPath, j.scratchDir)
		if err != nil {
			return nil, err
		}
	}
	if len(j.req.Extra) > 0 {
		boundary = boundary.WithPlacemarks(j.req.Extra...)
	}
	return boundary, nil
}

// clip clips dem to boundary, writes the clipped raster, and returns the
// raster read back from the written file.
func (j *job) clip(ctx context.Context, dem *terrain.GeoTIFF, boundary *terrain.Boundary) (*terrain.Raster, error) {
	raster, err := terrain.Clip(ctx, dem, boundary.MultiPolygon())
	if err != nil {
		return nil, err
	}
	name := j.base + suffixClippedDEM
	path := filepath.Join(j.outDir, name)
	if err := writeFile(path, func(w io.Writer) error {
		return terrain.WriteGeoTIFF(w, raster, terrain.WithCompression(terrain.CompressionDeflate))
	}); err != nil {
		return nil, err
	}
	clipped, err := terrain.OpenGeoTIFF(path, terrain.WithEPSG(raster.EPSG))
	if err != nil {
		return nil, err
	}
	r, err := clipped.Raster(ctx)
	if err != nil {
		return nil, err
	}
	j.addEntries(name)
	return r, nil
}

func (j *job) contourBranch(ctx context.Context, clipped result[*terrain.Raster]) result[*drawing.Drawing] {
	shapefile := runStage(ctx, j, StageContours, j.requires(OutputContoursShp, clipped.ok()), func(ctx context.Context) (string, error) {
		set, err := terrain.Contours(ctx, clipped.value,
			terrain.WithInterval(j.contourInterval),
			terrain.WithBase(j.contourBase),
		)
		if err != nil {
			return "", err
		}
		j.logger.Debug("contours", slog.Int("lines", len(set.Lines)))
		name := j.base + suffixShapefile
		path := filepath.Join(j.outDir, name)
		if err := terrain.WriteContourShapefile(path, set); err != nil {
			return "", err
		}
		for _, sidecar := range terrain.ContourShapefilePaths(name) {
			if _, err := os.Stat(filepath.Join(j.outDir, sidecar)); err == nil {
				j.addEntries(sidecar)
			}
		}
		return path, nil
	})

	return runStage(ctx, j, StageContoursDXF, j.requires(OutputContoursDXF, shapefile.ok()), func(context.Context) (*drawing.Drawing, error) {
		set, err := terrain.ReadContourShapefile(shapefile.value)
		if err != nil {
			return nil, err
		}
		return terrain.ContourDrawing(set), nil
	})
}

func (j *job) pointBranch(ctx context.Context, clipped result[*terrain.Raster]) (result[*drawing.Drawing], result[*drawing.Drawing]) {
	csv := runStage(ctx, j, StagePoints, j.requires(OutputPvsystCSV, clipped.ok()), func(context.Context) (string, error) {
		points, err := terrain.SamplePoints(clipped.value)
		if err != nil {
			return "", err
		}
		j.logger.Debug("points", slog.Int("points", len(points)))
		name := j.base + suffixPvsystCSV
		path := filepath.Join(j.outDir, name)
		if err := writeFile(path, func(w io.Writer) error {
			return terrain.WritePointsCSV(w, points)
		}); err != nil {
			return "", err
		}
		j.addEntries(name)
		return path, nil
	})

	// The points and mesh drawings share the points read back from the CSV.
	readPoints := sync.OnceValues(func() ([]terrain.Point3, error) {
		file, err := os.Open(csv.value)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		points, err := terrain.ReadPointsCSV(file)
		if err != nil {
			return nil, err
		}
		return terrain.ScaleZ(points, j.zFactor), nil
	})

	pointsDrawing := runStage(ctx, j, StagePointsDXF, j.requires(OutputPointsDXF, csv.ok()), func(context.Context) (*drawing.Drawing, error) {
		points, err := readPoints()
		if err != nil {
			return nil, err
		}
		return terrain.PointsDrawing(points), nil
	})

	meshDrawing := runStage(ctx, j, StageMesh, j.requires(OutputMeshDXF, csv.ok()), func(context.Context) (*drawing.Drawing, error) {
		points, err := readPoints()
		if err != nil {
			return nil, err
		}
		mesh, err := terrain.Triangulate(points)
		if err != nil {
			return nil, err
		}
		j.logger.Debug("mesh", slog.Int("triangles", len(mesh.Triangles)))
		return terrain.MeshDrawing(mesh), nil
	})

	return pointsDrawing, meshDrawing
}

// mergeStage merges the boundary drawing into a copy of product and writes the
// merged drawing. If product exists but cannot be merged then product is
// written unmerged.
func (j *job) mergeStage(ctx context.Context, stage Stage, product, boundary result[*drawing.Drawing], suffix string) {
	merged := runStage(ctx, j, stage, available(product.ok(), boundary.ok()), func(context.Context) (string, error) {
		d := product.value.Clone()
		stats, err := drawing.Merge(d, boundary.value)
		if err != nil {
			return "", err
		}
		j.logger.Debug("merge",
			slog.String("stage", string(stage)),
			slog.Int("entities", stats.EntitiesImported),
			slog.Int("collisions", stats.Collisions),
		)
		name := j.base + suffix + suffixMerged + ".dxf"
		return name, j.writeDrawing(name, d)
	})
	if !product.ok() || merged.ok() {
		return
	}
	if err := j.writeDrawing(j.base+suffix+".dxf", product.value); err != nil {
		j.logger.Warn("write unmerged drawing", slog.String("stage", string(stage)), slog.Any("err", err))
	}
}

func (j *job) writeDrawing(name string, d *drawing.Drawing) error {
	if err := writeFile(filepath.Join(j.outDir, name), d.Encode); err != nil {
		return err
	}
	j.addEntries(name)
	return nil
}

func (j *job) addEntries(names ...string) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	for _, name := range names {
		j.entries[name] = true
	}
}

// archiveEntries returns the names of the produced files in archive order.
func (j *job) archiveEntries() []string {
	candidates := []string{j.base + suffixClippedDEM}
	candidates = append(candidates, terrain.ContourShapefilePaths(j.base+suffixShapefile)...)
	candidates = append(candidates, j.base+suffixPvsystCSV, boundaryDXFName)
	for _, suffix := range []string{suffixPoints, suffixContours, suffixMesh} {
		candidates = append(candidates, j.base+suffix+suffixMerged+".dxf", j.base+suffix+".dxf")
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()
	var entries []string
	for _, name := range candidates {
		if j.entries[name] {
			entries = append(entries, name)
		}
	}
	return entries
}

// requires returns the reason why the stage producing output cannot run, or
// the empty string if it can.
func (j *job) requires(output Output, prerequisites ...bool) string {
	if !j.req.Outputs.Has(output) {
		return reasonNotRequested
	}
	return available(prerequisites...)
}

func available(prerequisites ...bool) string {
	for _, ok := range prerequisites {
		if !ok {
			return reasonUnavailable
		}
	}
	return ""
}

func (j *job) timeout(stage Stage) time.Duration {
	switch stage {
	case StageClip:
		return j.clipTimeout
	case StageContours:
		return j.contourTimeout
	default:
		return 0
	}
}

// runStage runs f as stage unless skipReason is non-empty, and records the
// outcome.
func runStage[T any](ctx context.Context, j *job, stage Stage, skipReason string, f func(context.Context) (T, error)) result[T] {
	logger := j.logger.With(slog.String("stage", string(stage)))
	if skipReason != "" {
		logger.Debug("skip", slog.String("reason", skipReason))
		stagesTotal.WithLabelValues(string(stage), string(StatusSkipped)).Inc()
		j.recorder.record(StageReport{Stage: stage, Status: StatusSkipped, Reason: skipReason})
		return result[T]{status: StatusSkipped}
	}

	if timeout := j.timeout(stage); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Debug("start")
	start := time.Now()
	value, err := f(ctx)
	duration := time.Since(start)
	stageDurationSeconds.WithLabelValues(string(stage)).Observe(duration.Seconds())

	if err != nil {
		logger.Warn("failed", slog.Any("err", err), slog.Duration("duration", duration))
		stagesTotal.WithLabelValues(string(stage), string(StatusFailed)).Inc()
		j.recorder.record(StageReport{Stage: stage, Status: StatusFailed, Error: err.Error(), Duration: duration})
		return result[T]{err: err, status: StatusFailed}
	}
	logger.Debug("done", slog.Duration("duration", duration))
	stagesTotal.WithLabelValues(string(stage), string(StatusSucceeded)).Inc()
	j.recorder.record(StageReport{Stage: stage, Status: StatusSucceeded, Duration: duration})
	return result[T]{value: value, status: StatusSucceeded}
}

// writeFile creates path and writes it with write. path is removed if write
// fails.
func writeFile(path string, write func(io.Writer) error) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("%w: %w", ErrIO, closeErr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return write(file)
}
