package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/twpayne/go-terrain/internal/config"
	"github.com/twpayne/go-terrain/pipeline"
)

const defaultConfigPath = "terrain-pipeline.toml"

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	o := &options{}
	rootCmd := &cobra.Command{
		Use:           "terrain-pipeline",
		Short:         "Derive contours, points, and meshes from a DEM and a boundary",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&o.configPath, "config", "", "config file (default "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.AddCommand(
		newServeCmd(o),
		newRunCmd(o),
		newMergeCmd(o),
	)
	return rootCmd
}

// load returns the configuration and a logger writing to stderr.
func (o *options) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath, defaultConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return cfg, logger, nil
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	return pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithScratchDir(cfg.ScratchDir),
		pipeline.WithContourInterval(cfg.Pipeline.ContourInterval),
		pipeline.WithContourBase(cfg.Pipeline.ContourBase),
		pipeline.WithZFactor(cfg.Pipeline.ZFactor),
		pipeline.WithClipTimeout(time.Duration(cfg.Pipeline.ClipTimeout)),
		pipeline.WithContourTimeout(time.Duration(cfg.Pipeline.ContourTimeout)),
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithRasterEPSG(cfg.Pipeline.RasterEPSG),
		pipeline.WithProjCacheSize(cfg.Pipeline.ProjCacheSize),
	)
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return newRootCmd().ExecuteContext(ctx)
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
