// Package pipeline runs the terrain-to-vector pipeline: it clips a DEM to a
// boundary, derives contours, points, and meshes from the clipped raster,
// merges each drawing with the boundary, and packages the products in a ZIP
// archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/twpayne/go-terrain"
)

var ErrIO = errors.New("I/O error")

// A Pipeline runs pipeline invocations. It is safe for concurrent use.
type Pipeline struct {
	logger          *slog.Logger
	reprojector     *terrain.Reprojector
	scratchDir      string
	contourInterval float64
	contourBase     float64
	zFactor         float64
	clipTimeout     time.Duration
	contourTimeout  time.Duration
	concurrency     int
	rasterEPSG      int
	projCacheSize   int
}

// An Option sets an option on a Pipeline.
type Option func(*Pipeline)

// New returns a new Pipeline with the given options.
func New(options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		logger:          slog.Default(),
		contourInterval: 1,
		zFactor:         1,
		clipTimeout:     5 * time.Minute,
		contourTimeout:  5 * time.Minute,
		concurrency:     3,
		projCacheSize:   16,
	}
	for _, option := range options {
		option(p)
	}
	if p.reprojector == nil {
		reprojector, err := terrain.NewReprojector(p.projCacheSize)
		if err != nil {
			return nil, err
		}
		p.reprojector = reprojector
	}
	return p, nil
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithReprojector sets the reprojector shared by invocations.
func WithReprojector(reprojector *terrain.Reprojector) Option {
	return func(p *Pipeline) {
		p.reprojector = reprojector
	}
}

// WithProjCacheSize sets the size of the default reprojector's transformer
// cache.
func WithProjCacheSize(projCacheSize int) Option {
	return func(p *Pipeline) {
		p.projCacheSize = projCacheSize
	}
}

// WithScratchDir sets the directory in which per-invocation scratch
// directories are created. The default is the system temporary directory.
func WithScratchDir(scratchDir string) Option {
	return func(p *Pipeline) {
		p.scratchDir = scratchDir
	}
}

// WithContourInterval sets the vertical interval between contours.
func WithContourInterval(contourInterval float64) Option {
	return func(p *Pipeline) {
		p.contourInterval = contourInterval
	}
}

// WithContourBase sets the elevation offset of contours.
func WithContourBase(contourBase float64) Option {
	return func(p *Pipeline) {
		p.contourBase = contourBase
	}
}

// WithZFactor sets the factor applied to point elevations in the points and
// mesh drawings.
func WithZFactor(zFactor float64) Option {
	return func(p *Pipeline) {
		p.zFactor = zFactor
	}
}

// WithClipTimeout sets the timeout of the clip stage. Zero means no timeout.
func WithClipTimeout(clipTimeout time.Duration) Option {
	return func(p *Pipeline) {
		p.clipTimeout = clipTimeout
	}
}

// WithContourTimeout sets the timeout of the contour stage. Zero means no
// timeout.
func WithContourTimeout(contourTimeout time.Duration) Option {
	return func(p *Pipeline) {
		p.contourTimeout = contourTimeout
	}
}

// WithConcurrency sets the maximum number of concurrent branches. Zero or
// negative means no limit.
func WithConcurrency(concurrency int) Option {
	return func(p *Pipeline) {
		p.concurrency = concurrency
	}
}

// WithRasterEPSG overrides the EPSG code of DEMs. Zero means use the DEM's
// GeoKeys.
func WithRasterEPSG(rasterEPSG int) Option {
	return func(p *Pipeline) {
		p.rasterEPSG = rasterEPSG
	}
}

// A Request is a single pipeline invocation.
type Request struct {
	ID string

	// DEMPath is the path of the GeoTIFF DEM.
	DEMPath string

	// BoundaryPath is the path of the boundary file. It is ignored if
	// Boundary is set.
	BoundaryPath string

	// BoundaryName is the filename from which archive names are derived. It
	// defaults to the base of BoundaryPath.
	BoundaryName string

	Boundary *terrain.Boundary

	// Extra are polygons drawn for this request only. They are appended to
	// the boundary.
	Extra []terrain.Placemark

	Outputs OutputSet
}

// ArchiveName returns the filename of req's archive.
func (req *Request) ArchiveName() string {
	name := req.boundaryName()
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".zip"
}

func (req *Request) boundaryName() string {
	switch {
	case req.BoundaryName != "":
		return filepath.Base(req.BoundaryName)
	case req.BoundaryPath != "":
		return filepath.Base(req.BoundaryPath)
	case req.Boundary != nil && req.Boundary.Name != "":
		return req.Boundary.Name
	default:
		return "boundary"
	}
}

// Run runs req and writes the resulting ZIP archive to w. Stage failures are
// recorded in the returned Report and do not fail the invocation. An error is
// returned only if neither the DEM nor the boundary can be read, or if the
// scratch directory or archive cannot be written.
func (p *Pipeline) Run(ctx context.Context, req *Request, w io.Writer) (*Report, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := p.logger.With(slog.String("job", req.ID))

	scratchDir, err := os.MkdirTemp(p.scratchDir, "terrain-")
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			logger.Warn("remove scratch directory", slog.Any("err", err))
		}
	}()
	outDir := filepath.Join(scratchDir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		runsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	j := &job{
		Pipeline:   p,
		req:        req,
		logger:     logger,
		scratchDir: scratchDir,
		outDir:     outDir,
		base:       terrain.BaseName(req.boundaryName()),
		entries:    make(map[string]bool),
	}
	logger.Info("run", slog.String("base", j.base), slog.String("outputs", req.Outputs.String()))
	report, err := j.run(ctx, w)
	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		logger.Warn("run failed", slog.Any("err", err))
		return nil, err
	}
	report.Duration = time.Since(start)
	runsTotal.WithLabelValues("ok").Inc()
	logger.Info("run complete",
		slog.Int("entries", len(report.Entries)),
		slog.Int("failures", report.Failures()),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}
