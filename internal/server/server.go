// Package server implements the terrain-pipeline HTTP surface.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twpayne/go-terrain"
	"github.com/twpayne/go-terrain/internal/ledger"
	"github.com/twpayne/go-terrain/pipeline"
)

const defaultJobsLimit = 50

var errMissingUpload = errors.New("upload not found")

// A Server serves pipeline requests over HTTP.
type Server struct {
	logger    *slog.Logger
	pipeline  *pipeline.Pipeline
	ledger    *ledger.Ledger
	uploadDir string
	fileWait  time.Duration
	engine    *gin.Engine
}

// An Option sets an option on a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLedger sets the ledger in which invocations are recorded.
func WithLedger(ledger *ledger.Ledger) Option {
	return func(s *Server) {
		s.ledger = ledger
	}
}

// WithFileWait sets how long to wait for an upload to appear before
// rejecting a request.
func WithFileWait(fileWait time.Duration) Option {
	return func(s *Server) {
		s.fileWait = fileWait
	}
}

// New returns a new Server that stores uploads in uploadDir and runs requests
// with p.
func New(p *pipeline.Pipeline, uploadDir string, options ...Option) (*Server, error) {
	s := &Server{
		logger:    slog.Default(),
		pipeline:  p,
		uploadDir: uploadDir,
		fileWait:  5 * time.Second,
	}
	for _, option := range options {
		option(s)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, err
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.logRequests)
	meshContour := s.engine.Group("/mesh_contour")
	{
		meshContour.POST("/upload-file", s.uploadFile)
		meshContour.POST("/upload", s.upload)
		meshContour.GET("/jobs", s.jobs)
	}
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return s, nil
}

// Handler returns s's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info("listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("duration", time.Since(start)),
	)
}

func (s *Server) uploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, "File upload failed")
		return
	}
	fileID := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, filepath.Join(s.uploadDir, fileID)); err != nil {
		s.logger.Warn("save upload", slog.Any("err", err))
		c.String(http.StatusInternalServerError, "File upload failed")
		return
	}
	s.logger.Debug("upload", slog.String("file_id", fileID), slog.String("filename", file.Filename))
	c.JSON(http.StatusOK, gin.H{"file_id": fileID})
}

func (s *Server) upload(c *gin.Context) {
	ctx := c.Request.Context()

	demPath, err := s.uploadPath(c.PostForm("dem_file_id"))
	if err != nil {
		c.String(http.StatusBadRequest, "dem_file_id: %v", err)
		return
	}
	kmlFileID := c.PostForm("kml_file_id")
	boundaryPath, err := s.uploadPath(kmlFileID)
	if err != nil {
		c.String(http.StatusBadRequest, "kml_file_id: %v", err)
		return
	}
	defer s.removeUploads(demPath, boundaryPath)

	outputs, err := pipeline.ParseOutputSet(c.PostFormArray("output_options"))
	if err != nil {
		c.String(http.StatusBadRequest, "output_options: %v", err)
		return
	}

	var extra []terrain.Placemark
	if polygons := c.PostForm("polygons"); polygons != "" {
		extra, err = terrain.ParsePlacemarks([]byte(polygons))
		if err != nil {
			c.String(http.StatusBadRequest, "polygons: %v", err)
			return
		}
	}

	for _, path := range []string{demPath, boundaryPath} {
		if err := s.waitForFile(ctx, path); err != nil {
			c.String(http.StatusBadRequest, "File %s not found.", filepath.Base(path))
			return
		}
	}

	boundaryName := c.PostForm("kml_file_name")
	if boundaryName == "" {
		boundaryName = kmlFileID
	}
	req := &pipeline.Request{
		ID:           uuid.NewString(),
		DEMPath:      demPath,
		BoundaryPath: boundaryPath,
		BoundaryName: boundaryName,
		Extra:        extra,
		Outputs:      outputs,
	}

	start := time.Now()
	var buf bytes.Buffer
	report, err := s.pipeline.Run(ctx, req, &buf)
	if err != nil {
		s.record(ctx, ledger.NewFailedJob(req, time.Since(start), err))
		c.String(http.StatusInternalServerError, "An error occurred during processing")
		return
	}
	if job, err := ledger.NewJob(report); err != nil {
		s.logger.Warn("ledger", slog.Any("err", err))
	} else {
		s.record(ctx, job)
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": report.ArchiveName,
	}))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func (s *Server) jobs(c *gin.Context) {
	limit := defaultJobsLimit
	if value := c.Query("limit"); value != "" {
		var err error
		limit, err = strconv.Atoi(value)
		if err != nil || limit <= 0 {
			c.String(http.StatusBadRequest, "limit: invalid value %q", value)
			return
		}
	}
	jobs := []ledger.Job{}
	if s.ledger != nil {
		var err error
		jobs, err = s.ledger.Recent(c.Request.Context(), limit)
		if err != nil {
			s.logger.Warn("ledger", slog.Any("err", err))
			c.String(http.StatusInternalServerError, "ledger unavailable")
			return
		}
	}
	c.JSON(http.StatusOK, jobs)
}

// uploadPath returns the path of the upload fileID. fileID must be a UUID
// with an optional extension.
func (s *Server) uploadPath(fileID string) (string, error) {
	if fileID == "" {
		return "", errors.New("missing")
	}
	if filepath.Base(fileID) != fileID {
		return "", fmt.Errorf("%s: invalid file id", fileID)
	}
	if _, err := uuid.Parse(strings.TrimSuffix(fileID, filepath.Ext(fileID))); err != nil {
		return "", fmt.Errorf("%s: invalid file id", fileID)
	}
	return filepath.Join(s.uploadDir, fileID), nil
}

// waitForFile waits up to s.fileWait for path to exist.
func (s *Server) waitForFile(ctx context.Context, path string) error {
	deadline := time.Now().Add(s.fileWait)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", path, errMissingUpload)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) removeUploads(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove upload", slog.String("path", path), slog.Any("err", err))
		}
	}
}

func (s *Server) record(ctx context.Context, job *ledger.Job) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Warn("ledger", slog.Any("err", err))
	}
}
