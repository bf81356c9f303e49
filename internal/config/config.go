// Package config loads the terrain-pipeline configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// A Duration is a time.Duration that is written in TOML as a string, for
// example "5m".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// A Pipeline is the configuration of pipeline invocations.
type Pipeline struct {
	ContourInterval float64  `toml:"contour_interval"`
	ContourBase     float64  `toml:"contour_base"`
	ZFactor         float64  `toml:"z_factor"`
	ClipTimeout     Duration `toml:"clip_timeout"`
	ContourTimeout  Duration `toml:"contour_timeout"`
	Concurrency     int      `toml:"concurrency"`
	RasterEPSG      int      `toml:"raster_epsg"`
	ProjCacheSize   int      `toml:"proj_cache_size"`
	FileWait        Duration `toml:"file_wait"`
}

// A Config is the terrain-pipeline configuration.
type Config struct {
	Listen     string   `toml:"listen"`
	UploadDir  string   `toml:"upload_dir"`
	ScratchDir string   `toml:"scratch_dir"`
	LedgerPath string   `toml:"ledger_path"`
	LogLevel   string   `toml:"log_level"`
	Pipeline   Pipeline `toml:"pipeline"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:     ":8080",
		UploadDir:  "uploads/mesh_contour",
		LedgerPath: "terrain-pipeline.db",
		LogLevel:   "info",
		Pipeline: Pipeline{
			ContourInterval: 1,
			ZFactor:         1,
			ClipTimeout:     Duration(5 * time.Minute),
			ContourTimeout:  Duration(5 * time.Minute),
			Concurrency:     3,
			ProjCacheSize:   16,
			FileWait:        Duration(5 * time.Second),
		},
	}
}

// Load returns the configuration read from path over the defaults. If path is
// empty and defaultPath does not exist then the defaults are returned.
func Load(path, defaultPath string) (*Config, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		path = defaultPath
	}
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	switch {
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return config, nil
	case err != nil:
		return nil, err
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate returns an error if c contains invalid values.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch p := c.Pipeline; {
	case p.ContourInterval <= 0:
		return fmt.Errorf("contour_interval: %g: must be positive", p.ContourInterval)
	case p.ZFactor <= 0:
		return fmt.Errorf("z_factor: %g: must be positive", p.ZFactor)
	case p.ClipTimeout < 0:
		return errors.New("clip_timeout: must not be negative")
	case p.ContourTimeout < 0:
		return errors.New("contour_timeout: must not be negative")
	case p.FileWait < 0:
		return errors.New("file_wait: must not be negative")
	case p.RasterEPSG < 0:
		return fmt.Errorf("raster_epsg: %d: must not be negative", p.RasterEPSG)
	case p.ProjCacheSize <= 0:
		return fmt.Errorf("proj_cache_size: %d: must be positive", p.ProjCacheSize)
	}
	return nil
}

// Level returns the log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
